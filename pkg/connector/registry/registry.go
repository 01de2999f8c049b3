package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// DialectFactory creates a dialect instance.
type DialectFactory func() (core.Dialect, error)

// DialectInfo describes a registered dialect.
type DialectInfo struct {
	Name        string
	Description string
	Version     string
}

// Registry manages dialect registration and instantiation
type Registry struct {
	dialects map[string]DialectFactory
	info     map[string]DialectInfo
	mu       sync.RWMutex
	logger   *zap.Logger
}

var globalRegistry = NewRegistry()

// NewRegistry creates a new dialect registry
func NewRegistry() *Registry {
	return &Registry{
		dialects: make(map[string]DialectFactory),
		info:     make(map[string]DialectInfo),
		logger:   logger.Get().With(zap.String("component", "dialect_registry")),
	}
}

// RegisterDialect registers a dialect factory under info.Name
func (r *Registry) RegisterDialect(info DialectInfo, factory DialectFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dialects[info.Name]; exists {
		return nebulaerrors.New(nebulaerrors.KindFatal, fmt.Sprintf("dialect %s already registered", info.Name))
	}

	r.dialects[info.Name] = factory
	r.info[info.Name] = info
	r.logger.Debug("dialect registered", zap.String("name", info.Name))
	return nil
}

// CreateDialect creates a dialect instance
func (r *Registry) CreateDialect(name string) (core.Dialect, error) {
	r.mu.RLock()
	factory, exists := r.dialects[name]
	r.mu.RUnlock()

	if !exists {
		return nil, nebulaerrors.New(nebulaerrors.KindConfiguration, fmt.Sprintf("dialect %s not found", name))
	}

	dialect, err := factory()
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindFatal, fmt.Sprintf("failed to create dialect %s", name))
	}
	return dialect, nil
}

// Info returns the metadata of a registered dialect
func (r *Registry) Info(name string) (DialectInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.info[name]
	return info, ok
}

// ListDialects returns the sorted names of registered dialects
func (r *Registry) ListDialects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dialects))
	for name := range r.dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDialect registers a dialect in the global registry
func RegisterDialect(info DialectInfo, factory DialectFactory) error {
	return globalRegistry.RegisterDialect(info, factory)
}

// CreateDialect creates a dialect from the global registry
func CreateDialect(name string) (core.Dialect, error) {
	return globalRegistry.CreateDialect(name)
}

// ListDialects returns registered dialects from the global registry
func ListDialects() []string {
	return globalRegistry.ListDialects()
}

// GetInfo returns dialect metadata from the global registry
func GetInfo(name string) (DialectInfo, bool) {
	return globalRegistry.Info(name)
}
