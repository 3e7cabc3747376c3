package base

import (
	"context"
	"time"

	strlib "github.com/venomous-maker/mongo-eloquent/libs/strings"
)

// RelationFunc declares a relation for a loaded model. It must not perform I/O.
type RelationFunc func(m *Model) *Relation

// Hooks run around persistence and fetches. A non-nil error from a Before
// hook aborts the operation before the store is touched.
type Hooks struct {
	BeforeSave   func(ctx context.Context, m *Model) error
	AfterCreate  func(ctx context.Context, m *Model) error
	AfterUpdate  func(ctx context.Context, m *Model) error
	BeforeDelete func(ctx context.Context, m *Model) error
	AfterDelete  func(ctx context.Context, m *Model) error
	AfterFetch   func(ctx context.Context, models []*Model) error
}

// Schema describes one model: where it lives and how it behaves.
type Schema struct {
	// Name identifies the model in the registry and is the value stored in
	// polymorphic type fields.
	Name       string
	Collection string
	PrimaryKey string

	SoftDeletes bool
	Timestamps  bool

	DeletedField   string
	DeletedAtField string
	CreatedAtField string
	UpdatedAtField string

	// Fillable and Guarded filter mass assignment through Fill and Create.
	Fillable []string
	Guarded  []string

	Relations map[string]RelationFunc
	Hooks     Hooks

	// CacheTTL enables the query cache for this model when positive.
	CacheTTL time.Duration
}

// SchemaDefaults fills the fields a Schema leaves empty.
type SchemaDefaults struct {
	PrimaryKey     string
	DeletedField   string
	DeletedAtField string
	CreatedAtField string
	UpdatedAtField string
	CacheTTL       time.Duration
}

func DefaultSchemaDefaults() SchemaDefaults {
	return SchemaDefaults{
		PrimaryKey:     "_id",
		DeletedField:   "is_deleted",
		DeletedAtField: "deleted_at",
		CreatedAtField: "created_at",
		UpdatedAtField: "updated_at",
	}
}

func (s Schema) withDefaults(d SchemaDefaults) *Schema {
	if s.Collection == "" {
		s.Collection = strlib.CollectionName(s.Name)
	}
	if s.PrimaryKey == "" {
		s.PrimaryKey = d.PrimaryKey
	}
	if s.DeletedField == "" {
		s.DeletedField = d.DeletedField
	}
	if s.DeletedAtField == "" {
		s.DeletedAtField = d.DeletedAtField
	}
	if s.CreatedAtField == "" {
		s.CreatedAtField = d.CreatedAtField
	}
	if s.UpdatedAtField == "" {
		s.UpdatedAtField = d.UpdatedAtField
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = d.CacheTTL
	}
	if s.Relations == nil {
		s.Relations = map[string]RelationFunc{}
	}
	return &s
}

// fillable reports whether key may be mass assigned.
func (s *Schema) fillable(key string) bool {
	if len(s.Fillable) > 0 {
		return containsString(s.Fillable, key)
	}
	return !containsString(s.Guarded, key)
}
