package cmd

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/flowmend/flowmend/pkg/otelhelper"
)

// NewTracer builds an OTLP-exporting tracer for the named service. Disabled
// tracing returns nil; the managers treat a nil tracer as noop.
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, error) {
	if !enabled {
		return nil, nil
	}

	tracer, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return tracer, nil
}
