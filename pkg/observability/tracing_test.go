package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingWithoutOutputIsNoop(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "ex-firebird"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSpansAreExported(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{
		ServiceName:    "ex-firebird",
		ServiceVersion: "test",
		Output:         &buf,
	})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "query.attempt", "context", "Error fetching tables")
	EndSpan(span, errors.New("connection lost"))

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "query.attempt")
	assert.Contains(t, out, "Error fetching tables")
	assert.Contains(t, out, "connection lost")
}
