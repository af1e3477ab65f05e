package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// passCount sums docwatch_scan_passes_total for org and outcome.
func passCount(t *testing.T, reader *sdkmetric.ManualReader, org, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "docwatch_scan_passes_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				o, _ := dp.Attributes.Value(attribute.Key("org"))
				r, _ := dp.Attributes.Value(attribute.Key("outcome"))
				if o.AsString() == org && r.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestFailedPassesAreRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	st := newMemStore(doc("d1", "https://a.dev", "old"))
	st.bulkErr = errors.New("connection reset")
	f := &mapFetcher{pages: map[string]string{"https://a.dev": "new"}}
	o := New(st, f, Options{})

	_, err := o.ScanOrganization(context.Background(), "org-metrics")
	require.Error(t, err)
	assert.Equal(t, int64(1), passCount(t, reader, "org-metrics", "error"))
	assert.Equal(t, int64(0), passCount(t, reader, "org-metrics", "ok"))

	st.bulkErr = nil
	_, err = o.ScanOrganization(context.Background(), "org-metrics")
	require.NoError(t, err)
	assert.Equal(t, int64(1), passCount(t, reader, "org-metrics", "ok"))
}
