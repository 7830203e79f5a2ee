package host

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	calls   metric.Int64Counter
	acks    metric.Int64Counter
	replies metric.Int64Counter
	outbox  metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host")

	calls, err := meter.Int64Counter("bridge_calls_total",
		metric.WithDescription("Entrypoint calls by entrypoint and outcome"))
	if err != nil {
		return nil, err
	}
	acks, err := meter.Int64Counter("bridge_acknowledgements_total",
		metric.WithDescription("Packet acknowledgements written or settled"))
	if err != nil {
		return nil, err
	}
	replies, err := meter.Int64Counter("bridge_forced_success_total",
		metric.WithDescription("Failed scheduled messages turned into a success acknowledgement"))
	if err != nil {
		return nil, err
	}
	outbox, err := meter.Int64Counter("bridge_outbox_entries_total",
		metric.WithDescription("Entries queued for delivery"))
	if err != nil {
		return nil, err
	}
	return &metrics{calls: calls, acks: acks, replies: replies, outbox: outbox}, nil
}

func outcome(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "success")
	}
	return attribute.String("outcome", "failure")
}

func (m *metrics) call(ctx context.Context, entrypoint string, ok bool) {
	m.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("entrypoint", entrypoint), outcome(ok)))
}

func (m *metrics) ack(ctx context.Context, kind string, ok bool) {
	m.acks.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), outcome(ok)))
}

func (m *metrics) forcedSuccess(ctx context.Context, reply string) {
	m.replies.Add(ctx, 1, metric.WithAttributes(attribute.String("reply", reply)))
}

func (m *metrics) outboxed(ctx context.Context, kind string) {
	m.outbox.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
