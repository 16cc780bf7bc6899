// Package telemetry provides semantic conventions and a shared meter for
// feed-runtime observability. It only records against the otel/metric API
// surface; installing and exporting an SDK is a host-process concern.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic convention attribute keys, namespaced the way the teacher's
// adapter telemetry does (namespace.attribute_name).
const (
	AttrChannel         = attribute.Key("channel")
	AttrSymbol          = attribute.Key("symbol")
	AttrResult          = attribute.Key("result")
	AttrReason          = attribute.Key("reason")
	AttrDropPolicy      = attribute.Key("drop.policy")
	AttrConnectionState = attribute.Key("connection.state")
	AttrTrigger         = attribute.Key("trigger")
	AttrEventKind       = attribute.Key("event.kind")
)

// Meter returns the shared meter for the feed runtime.
func Meter() metric.Meter {
	return otel.Meter("krakenfeed")
}

// EnsureContext substitutes a background context when ctx is nil, matching
// the teacher's ensureContext helper used before every instrument call.
func EnsureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// ChannelAttributes returns the common attribute set for per-channel counters.
func ChannelAttributes(channel, symbol string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if channel != "" {
		attrs = append(attrs, AttrChannel.String(channel))
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	return attrs
}

// ResultAttributes annotates a counter with a free-form outcome.
func ResultAttributes(result string) []attribute.KeyValue {
	if result == "" {
		return nil
	}
	return []attribute.KeyValue{AttrResult.String(result)}
}
