package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func() (core.Dialect, error) { return nil, nil }

	require.NoError(t, r.RegisterDialect(DialectInfo{Name: "b"}, factory))
	require.NoError(t, r.RegisterDialect(DialectInfo{Name: "a", Description: "first"}, factory))

	err := r.RegisterDialect(DialectInfo{Name: "a"}, factory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Equal(t, []string{"a", "b"}, r.ListDialects())

	info, ok := r.Info("a")
	require.True(t, ok)
	assert.Equal(t, "first", info.Description)
}

func TestCreateDialectErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.CreateDialect("oracle")
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsKind(err, nebulaerrors.KindConfiguration))

	require.NoError(t, r.RegisterDialect(DialectInfo{Name: "broken"}, func() (core.Dialect, error) {
		return nil, errors.New("boom")
	}))
	_, err = r.CreateDialect("broken")
	require.Error(t, err)
	assert.Equal(t, "failed to create dialect broken: boom", err.Error())
}
