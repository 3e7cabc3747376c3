package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/venomous-maker/mongo-eloquent/Engine/Memory"
	BaseServices "github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServerRoutesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	router, manager := newServer(memory.New(), BaseServices.DefaultSchemaDefaults(), reg, zaptest.NewLogger(t))

	for _, name := range []string{"User", "Post", "Role", "Tag"} {
		_, ok := manager.Service(name)
		assert.True(t, ok, name)
	}

	w := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/users", map[string]interface{}{"name": "ann", "password": "x"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "ann", created.Data["name"])
	assert.NotContains(t, created.Data, "password")

	w = do(t, router, http.MethodGet, "/api/users?with=posts,roles", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "eloquent_store_operations_total"))
}

func TestRegisteredRelationsResolve(t *testing.T) {
	ctx := context.Background()
	_, manager := newServer(memory.New(), BaseServices.DefaultSchemaDefaults(), prometheus.NewRegistry(), zaptest.NewLogger(t))
	users := manager.MustService("User")
	roles := manager.MustService("Role")

	u, err := users.Create(ctx, map[string]interface{}{"name": "ann"})
	require.NoError(t, err)
	admin, err := roles.Create(ctx, map[string]interface{}{"name": "admin"})
	require.NoError(t, err)

	require.NoError(t, u.Relation("roles").Attach(ctx, admin.Key(), map[string]interface{}{"granted_by": "root"}))

	got, err := roles.Query().Find(ctx, admin.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	members, err := got.Relation("users").Get(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "ann", members[0].Get("name"))
}
