package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/eayunstack/notifyqueue/internal/metrics"
	"github.com/eayunstack/notifyqueue/internal/monitor"
)

type fakeController struct{ err error }

func (f fakeController) Create(ctx context.Context, key monitor.Key) error { return nil }

func (f fakeController) Get(ctx context.Context, key monitor.Key) (monitor.Record, error) {
	return monitor.Record{}, nil
}

func (f fakeController) List(ctx context.Context, opts monitor.ListOptions) (monitor.Page, error) {
	return monitor.Page{}, nil
}

func (f fakeController) Update(ctx context.Context, project, name string, countType monitor.CountType, success bool, n int, b int64) error {
	return f.err
}

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.WithLabelValues(labels...).Write(m))
	return m.GetCounter().GetValue()
}

func TestInstrumentedController_RecordsErrorsByBackend(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	wrapped := metrics.Instrument(fakeController{err: errors.New("boom")}, reg, "memory")

	err := wrapped.Update(context.Background(), "p1", "q1", monitor.ConsumeMessages, false, 1, 10)
	require.Error(t, err)
	require.Equal(t, float64(1), counterValue(t, reg.MonitorUpdateErrors, "memory"))
}

func TestInstrumentedController_NoErrorOnSuccess(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	wrapped := metrics.Instrument(fakeController{}, reg, "postgres")

	require.NoError(t, wrapped.Update(context.Background(), "p1", "q1", monitor.ConsumeMessages, false, 1, 10))
	require.Equal(t, float64(0), counterValue(t, reg.MonitorUpdateErrors, "postgres"))
}
