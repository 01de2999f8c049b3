package firebird

import (
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDialect(registry.DialectInfo{
		Name:        Name,
		Description: "Firebird source with table listing and incremental fetching",
		Version:     "1.0.0",
	}, func() (core.Dialect, error) {
		return NewDialect(), nil
	})
}
