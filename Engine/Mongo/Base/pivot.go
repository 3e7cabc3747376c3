package base

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// SyncResult lists the related keys each pivot operation touched.
type SyncResult struct {
	Attached []interface{} `json:"attached"`
	Detached []interface{} `json:"detached"`
	Updated  []interface{} `json:"updated"`
}

// WithPivot exposes extra pivot fields on fetched models.
func (r *Relation) WithPivot(fields ...string) *Relation {
	if r.Pivot != nil {
		r.Pivot.Fields = append(r.Pivot.Fields, fields...)
	}
	return r
}

// WithTimestamps stamps created_at and updated_at on pivot rows.
func (r *Relation) WithTimestamps() *Relation {
	if r.Pivot != nil {
		r.Pivot.Timestamps = true
	}
	return r
}

// As renames the relation slot that carries pivot data.
func (r *Relation) As(alias string) *Relation {
	if r.Pivot != nil && alias != "" {
		r.Pivot.Alias = alias
	}
	return r
}

func (r *Relation) requirePivot() error {
	if r.Eloquent.err != nil {
		return r.Eloquent.err
	}
	if r.Pivot == nil {
		return invalidArgument("%s relations have no pivot", r.Type)
	}
	if r.parent.Get(r.LocalKey) == nil {
		return invalidArgument("parent %s has no %s", r.parent.service.schema.Name, r.LocalKey)
	}
	return nil
}

func (r *Relation) pivotTypeFilter(filter bson.M) bson.M {
	if r.Pivot.MorphType != "" {
		filter[r.Pivot.MorphType] = r.Pivot.MorphClass
	}
	return filter
}

func (r *Relation) ownerFilter() bson.M {
	return r.pivotTypeFilter(bson.M{r.Pivot.ForeignPivotKey: r.parent.Get(r.LocalKey)})
}

// pivotRows loads the pivot rows owned by any of parentKeys, in stored order.
func (r *Relation) pivotRows(ctx context.Context, parentKeys []interface{}) ([]bson.M, error) {
	filter := r.pivotTypeFilter(bson.M{r.Pivot.ForeignPivotKey: bson.M{"$in": parentKeys}})
	return r.related.manager.store.Aggregate(ctx, r.Pivot.Collection, []bson.M{{"$match": filter}})
}

// pivotData is what a fetched model carries under the pivot alias.
func (r *Relation) pivotData(row bson.M) bson.M {
	out := bson.M{
		r.Pivot.ForeignPivotKey: row[r.Pivot.ForeignPivotKey],
		r.Pivot.RelatedPivotKey: row[r.Pivot.RelatedPivotKey],
	}
	fields := r.Pivot.Fields
	if r.Pivot.Timestamps {
		fields = append(fields[:len(fields):len(fields)], "created_at", "updated_at")
	}
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

// attachPivotData sets the first row pointing at child. Rows of other parents
// are ignored.
func (r *Relation) attachPivotData(child *Model, rows []bson.M) {
	key := idKey(child.Get(r.OwnerKey))
	for _, row := range rows {
		if idKey(row[r.Pivot.RelatedPivotKey]) == key {
			child.SetRelation(r.Pivot.Alias, r.pivotData(row))
			return
		}
	}
}

func (r *Relation) pivotRecord(id interface{}, now time.Time, extra ...bson.M) bson.M {
	doc := mergeMaps(extra...)
	doc[r.Pivot.ForeignPivotKey] = r.parent.Get(r.LocalKey)
	doc[r.Pivot.RelatedPivotKey] = normalizeID(id)
	r.pivotTypeFilter(doc)
	if r.Pivot.Timestamps {
		if _, ok := doc["created_at"]; !ok {
			doc["created_at"] = now
		}
		if _, ok := doc["updated_at"]; !ok {
			doc["updated_at"] = now
		}
	}
	return doc
}

func (r *Relation) logPivot(action string, ids []interface{}) {
	r.related.logger().Debug("pivot "+action,
		zap.String("collection", r.Pivot.Collection),
		zap.Any("parent", r.parent.Get(r.LocalKey)),
		zap.Int("ids", len(ids)))
}

// Attach inserts one pivot row per id. Existing rows are not checked, so
// attaching the same id twice stores two rows.
func (r *Relation) Attach(ctx context.Context, ids interface{}, attrs ...bson.M) error {
	if err := r.requirePivot(); err != nil {
		return err
	}
	list := toInterfaceSlice(ids)
	if len(list) == 0 {
		return nil
	}
	now := time.Now()
	docs := make([]bson.M, len(list))
	for i, id := range list {
		docs[i] = r.pivotRecord(id, now, attrs...)
	}
	if _, err := r.related.manager.store.InsertMany(ctx, r.Pivot.Collection, docs); err != nil {
		return err
	}
	r.logPivot("attach", list)
	return nil
}

// Detach removes the pivot rows for ids, or every row of the parent when no
// ids are given.
func (r *Relation) Detach(ctx context.Context, ids ...interface{}) (int64, error) {
	if err := r.requirePivot(); err != nil {
		return 0, err
	}
	filter := r.ownerFilter()
	var list []interface{}
	for _, id := range ids {
		for _, v := range toInterfaceSlice(id) {
			list = append(list, normalizeID(v))
		}
	}
	if len(ids) > 0 {
		filter[r.Pivot.RelatedPivotKey] = bson.M{"$in": list}
	}
	n, err := r.related.manager.store.DeleteMany(ctx, r.Pivot.Collection, filter)
	if err != nil {
		return n, err
	}
	r.logPivot("detach", list)
	return n, nil
}

// AttachedIDs lists the related keys currently attached, without duplicates.
func (r *Relation) AttachedIDs(ctx context.Context) ([]interface{}, error) {
	if err := r.requirePivot(); err != nil {
		return nil, err
	}
	rows, err := r.pivotRows(ctx, []interface{}{r.parent.Get(r.LocalKey)})
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row[r.Pivot.RelatedPivotKey])
	}
	return distinct(ids), nil
}

func splitIDs(current, wanted []interface{}) (missing, extra []interface{}) {
	have := map[string]struct{}{}
	for _, id := range current {
		have[idKey(id)] = struct{}{}
	}
	want := map[string]struct{}{}
	for _, id := range wanted {
		want[idKey(id)] = struct{}{}
		if _, ok := have[idKey(id)]; !ok {
			missing = append(missing, id)
		}
	}
	for _, id := range current {
		if _, ok := want[idKey(id)]; !ok {
			extra = append(extra, id)
		}
	}
	return missing, extra
}

func normalizeIDs(ids interface{}) []interface{} {
	list := toInterfaceSlice(ids)
	out := make([]interface{}, len(list))
	for i, id := range list {
		out[i] = normalizeID(id)
	}
	return distinct(out)
}

// Sync makes ids the exact attached set.
func (r *Relation) Sync(ctx context.Context, ids interface{}, attrs ...bson.M) (*SyncResult, error) {
	return r.sync(ctx, normalizeIDs(ids), true, attrs)
}

// SyncWithoutDetaching attaches the ids that are missing and keeps the rest.
func (r *Relation) SyncWithoutDetaching(ctx context.Context, ids interface{}, attrs ...bson.M) (*SyncResult, error) {
	return r.sync(ctx, normalizeIDs(ids), false, attrs)
}

func (r *Relation) sync(ctx context.Context, wanted []interface{}, detaching bool, attrs []bson.M) (*SyncResult, error) {
	current, err := r.AttachedIDs(ctx)
	if err != nil {
		return nil, err
	}
	missing, extra := splitIDs(current, wanted)
	res := &SyncResult{Attached: []interface{}{}, Detached: []interface{}{}, Updated: []interface{}{}}
	if detaching && len(extra) > 0 {
		if _, err := r.Detach(ctx, extra); err != nil {
			return nil, err
		}
		res.Detached = extra
	}
	if len(missing) > 0 {
		if err := r.Attach(ctx, missing, attrs...); err != nil {
			return nil, err
		}
		res.Attached = missing
	}
	return res, nil
}

// SyncWithPivotValue detaches every row of the parent and attaches ids with
// attrs. The two steps are separate writes; a failure between them leaves the
// parent with no rows.
func (r *Relation) SyncWithPivotValue(ctx context.Context, ids interface{}, attrs bson.M) (*SyncResult, error) {
	current, err := r.AttachedIDs(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.Detach(ctx); err != nil {
		return nil, err
	}
	wanted := normalizeIDs(ids)
	if err := r.Attach(ctx, wanted, attrs); err != nil {
		return nil, err
	}
	_, detached := splitIDs(current, wanted)
	if detached == nil {
		detached = []interface{}{}
	}
	return &SyncResult{Attached: wanted, Detached: detached, Updated: []interface{}{}}, nil
}

// Toggle detaches the ids that are attached and attaches the rest.
func (r *Relation) Toggle(ctx context.Context, ids interface{}, attrs ...bson.M) (*SyncResult, error) {
	current, err := r.AttachedIDs(ctx)
	if err != nil {
		return nil, err
	}
	wanted := normalizeIDs(ids)
	attach, _ := splitIDs(current, wanted)
	var detach []interface{}
	have := map[string]struct{}{}
	for _, id := range current {
		have[idKey(id)] = struct{}{}
	}
	for _, id := range wanted {
		if _, ok := have[idKey(id)]; ok {
			detach = append(detach, id)
		}
	}
	res := &SyncResult{Attached: []interface{}{}, Detached: []interface{}{}, Updated: []interface{}{}}
	if len(detach) > 0 {
		if _, err := r.Detach(ctx, detach); err != nil {
			return nil, err
		}
		res.Detached = detach
	}
	if len(attach) > 0 {
		if err := r.Attach(ctx, attach, attrs...); err != nil {
			return nil, err
		}
		res.Attached = attach
	}
	return res, nil
}

// UpdateExistingPivot sets attrs on the rows linking the parent to id.
func (r *Relation) UpdateExistingPivot(ctx context.Context, id interface{}, attrs bson.M) (int64, error) {
	if err := r.requirePivot(); err != nil {
		return 0, err
	}
	if len(attrs) == 0 {
		return 0, invalidArgument("pivot update needs at least one value")
	}
	set := mergeMaps(attrs)
	if r.Pivot.Timestamps {
		set["updated_at"] = time.Now()
	}
	filter := r.ownerFilter()
	filter[r.Pivot.RelatedPivotKey] = normalizeID(id)
	return r.related.manager.store.UpdateMany(ctx, r.Pivot.Collection, filter, bson.M{"$set": set})
}
