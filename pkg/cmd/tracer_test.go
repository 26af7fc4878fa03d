package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracer_DisabledReturnsNil(t *testing.T) {
	tracer, err := NewTracer(context.Background(), false, "flowmend-api")

	require.NoError(t, err)
	assert.Nil(t, tracer)
}

func TestNewTracer_EnabledReturnsTracer(t *testing.T) {
	// The OTLP HTTP exporter connects lazily, so construction succeeds
	// without a collector listening.
	tracer, err := NewTracer(context.Background(), true, "flowmend-test")

	require.NoError(t, err)
	assert.NotNil(t, tracer)
}
