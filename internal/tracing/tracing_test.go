package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDisabledProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	_, span := TraceTick(context.Background(), p.Tracer(), "run-a", "id-1")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEnabledProviderWithoutEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, SampleRate: 0.5})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSpanHierarchy(t *testing.T) {
	sr, tp := newRecorder()
	tracer := tp.Tracer("test")

	ctx, tick := TraceTick(context.Background(), tracer, "run-a", "id-1")
	_, read := TraceRead(ctx, tracer, "/runs/a/train.log", 128)
	read.End()
	_, tl := TraceTimeline(ctx, tracer, 4)
	tl.End()
	tick.End()

	spans := sr.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "tailer.read_delta", spans[0].Name())
	assert.Equal(t, "timeline.process", spans[1].Name())
	assert.Equal(t, "monitor.tick", spans[2].Name())

	root := spans[2].SpanContext().SpanID()
	assert.Equal(t, root, spans[0].Parent().SpanID())
	assert.Equal(t, root, spans[1].Parent().SpanID())

	v, ok := attrValue(spans[0].Attributes(), "log.offset")
	require.True(t, ok)
	assert.Equal(t, int64(128), v.AsInt64())

	v, ok = attrValue(spans[2].Attributes(), "run.name")
	require.True(t, ok)
	assert.Equal(t, "run-a", v.AsString())
}

func TestRecordError(t *testing.T) {
	sr, tp := newRecorder()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1)
}
