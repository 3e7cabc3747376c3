package base

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/venomous-maker/mongo-eloquent/Engine/Store"
)

// Manager is the model registry. Relations name their related model, and the
// manager resolves that name to a service when the relation is used.
type Manager struct {
	store    store.Store
	logger   *zap.Logger
	defaults SchemaDefaults
	cache    *queryCache

	mu       sync.RWMutex
	services map[string]*EloquentService
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithDefaults(d SchemaDefaults) Option {
	return func(m *Manager) { m.defaults = d }
}

func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		logger:   zap.NewNop(),
		defaults: DefaultSchemaDefaults(),
		cache:    newQueryCache(),
		services: map[string]*EloquentService{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a model and returns its service. Registering the same name
// again replaces the previous schema.
func (m *Manager) Register(schema Schema) *EloquentService {
	if schema.Name == "" {
		panic("eloquent: schema needs a Name")
	}
	svc := &EloquentService{manager: m, schema: schema.withDefaults(m.defaults)}
	m.mu.Lock()
	m.services[schema.Name] = svc
	m.mu.Unlock()
	m.logger.Debug("registered model",
		zap.String("model", schema.Name),
		zap.String("collection", svc.schema.Collection))
	return svc
}

func (m *Manager) Service(name string) (*EloquentService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	return svc, ok
}

func (m *Manager) resolve(name string) (*EloquentService, error) {
	svc, ok := m.Service(name)
	if !ok {
		return nil, invalidArgument("model %q is not registered", name)
	}
	return svc, nil
}

// MustService panics when name is not registered.
func (m *Manager) MustService(name string) *EloquentService {
	svc, err := m.resolve(name)
	if err != nil {
		panic(fmt.Sprint(err))
	}
	return svc
}

func (m *Manager) Store() store.Store {
	return m.store
}

func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// FlushCache drops every cached query result.
func (m *Manager) FlushCache() {
	m.cache.flush()
}
