package lifecycle

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/edms/lifecycle-core/internal/types"
)

// Instrumentation is deliberately thin: a single transition counter keyed
// by target state and trigger kind. Exporter wiring belongs to whichever
// process embeds the engine; with no SDK installed these calls hit the
// no-op global meter.
var (
	meter = otel.Meter("github.com/edms/lifecycle-core/internal/lifecycle")

	transitionCounter, _ = meter.Int64Counter("edms.lifecycle.transitions",
		metric.WithDescription("Completed document state transitions"))
)

func recordTransition(ctx context.Context, to types.Status, system bool) {
	trigger := "user"
	if system {
		trigger = "system"
	}
	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to_state", string(to)),
		attribute.String("trigger", trigger),
	))
}
