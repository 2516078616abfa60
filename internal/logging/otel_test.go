package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
)

type exportedRecord struct {
	body  string
	attrs map[string]log.Value
}

// memoryExporter keeps exported log records in memory.
type memoryExporter struct {
	mu      sync.Mutex
	records []exportedRecord
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		rec := exportedRecord{body: r.Body().AsString(), attrs: map[string]log.Value{}}
		r.WalkAttributes(func(kv log.KeyValue) bool {
			rec.attrs[kv.Key] = kv.Value
			return true
		})
		e.records = append(e.records, rec)
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryExporter) Records() []exportedRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]exportedRecord(nil), e.records...)
}

func TestLogger_WithOTEL(t *testing.T) {
	exporter := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	base := NewTestLogger()
	logger := base.WithOTEL("crewd", provider).Named("runner")

	ctx := WithRun(context.Background(), "run-7", 42)
	logger.Info(ctx, "issue processed", zap.String("outcome", "ok"))
	logger.Debug(ctx, "below configured level")

	assert.Equal(t, 1, base.FilterMessage("issue processed").Len())

	records := exporter.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "issue processed", records[0].body)
	assert.Equal(t, "run-7", records[0].attrs["run.id"].AsString())
	assert.Equal(t, int64(42), records[0].attrs["issue.number"].AsInt64())
	assert.Equal(t, "ok", records[0].attrs["outcome"].AsString())
}

func TestLogger_WithOTELNilProvider(t *testing.T) {
	logger := Nop()
	assert.Same(t, logger, logger.WithOTEL("crewd", nil))
}
