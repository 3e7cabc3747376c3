package instrument_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap/zaptest"

	"github.com/venomous-maker/mongo-eloquent/Engine/Instrument"
	"github.com/venomous-maker/mongo-eloquent/Engine/Memory"
	"github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

func newStore(t *testing.T) (*instrument.Store, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return instrument.Wrap(memory.New(), instrument.NewMetrics(reg), zaptest.NewLogger(t)), reg
}

func TestStoreCountsOperations(t *testing.T) {
	ctx := context.Background()
	st, reg := newStore(t)

	_, err := st.InsertMany(ctx, "users", []bson.M{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)
	docs, err := st.Aggregate(ctx, "users", []bson.M{{"$match": bson.M{}}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	n, err := st.DeleteMany(ctx, "users", bson.M{"name": "a"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "eloquent_store_operations_total")
	assert.Contains(t, names, "eloquent_store_operation_duration_seconds")
	assert.Contains(t, names, "eloquent_store_documents_total")
}

func TestStoreRecordsErrors(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := instrument.NewMetrics(reg)
	st := instrument.Wrap(memory.New(), m, nil)

	_, err := st.Aggregate(ctx, "users", []bson.M{{"$bogus": 1}})
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "eloquent_store_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreBacksManager(t *testing.T) {
	ctx := context.Background()
	st, reg := newStore(t)
	users := base.NewManager(st).Register(base.Schema{Name: "User", SoftDeletes: true})

	u, err := users.Create(ctx, map[string]interface{}{"name": "ann"})
	require.NoError(t, err)
	require.NoError(t, u.Delete(ctx))

	got, err := users.Query().OnlyTrashed().Get(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := st.Unwrap().(*memory.Store)
	assert.True(t, ok)

	count, err := testutil.GatherAndCount(reg, "eloquent_store_operations_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 3)
}
