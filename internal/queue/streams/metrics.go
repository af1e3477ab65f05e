package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	publishedCounter  otelmetric.Int64Counter
	ackedCounter      otelmetric.Int64Counter
	droppedCounter    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("docwatch/queue/streams")
	var err error
	publishedCounter, err = meter.Int64Counter(
		"docwatch_queue_published_total",
		otelmetric.WithDescription("Envelopes appended to streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: docwatch_queue_published_total: %v", err)
	}
	ackedCounter, err = meter.Int64Counter(
		"docwatch_queue_acked_total",
		otelmetric.WithDescription("Stream entries acknowledged by consumers"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: docwatch_queue_acked_total: %v", err)
	}
	droppedCounter, err = meter.Int64Counter(
		"docwatch_queue_dropped_total",
		otelmetric.WithDescription("Undecodable or invalid entries acknowledged without processing"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: docwatch_queue_dropped_total: %v", err)
	}
}

func streamAttrs(stream, eventType string) otelmetric.MeasurementOption {
	attrs := []attribute.KeyValue{attribute.String("stream", stream)}
	if eventType != "" {
		attrs = append(attrs, attribute.String("event_type", eventType))
	}
	return otelmetric.WithAttributes(attrs...)
}

func recordPublished(ctx context.Context, stream, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if publishedCounter != nil {
		publishedCounter.Add(contextOrBackground(ctx), 1, streamAttrs(stream, eventType))
	}
}

func recordAcked(ctx context.Context, stream string, n int) {
	streamMetricsOnce.Do(initStreamMetrics)
	if ackedCounter != nil && n > 0 {
		ackedCounter.Add(contextOrBackground(ctx), int64(n), streamAttrs(stream, ""))
	}
}

func recordDropped(ctx context.Context, stream string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if droppedCounter != nil {
		droppedCounter.Add(contextOrBackground(ctx), 1, streamAttrs(stream, ""))
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
