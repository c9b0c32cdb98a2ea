package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eayunstack/notifyqueue/internal/monitor"
)

func TestStore_CreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "t1"}

	require.NoError(t, s.Create(ctx, key))
	require.ErrorIs(t, s.Create(ctx, key), monitor.ErrAlreadyExists)

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Counts[monitor.FieldMC])
}

func TestStore_UpdateSingleVsBulk(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Update(ctx, "p1", "topic1", monitor.PublishMessages, false, 1, 100))
	rec, err := s.Get(ctx, monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "topic1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Counts[monitor.FieldMC])
	assert.InDelta(t, 100.0/1024, rec.KBytes[monitor.FieldMB], 0.0001)

	require.NoError(t, s.Update(ctx, "p1", "topic1", monitor.PublishMessages, false, 3, 300))
	rec, err = s.Get(ctx, monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "topic1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Counts[monitor.FieldBMC])
}

func TestStore_SubscribeMessagesSuccessVsFailure(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Update(ctx, "p1", "t1", monitor.SubscribeMessages, true, 1, 10))
	require.NoError(t, s.Update(ctx, "p1", "t1", monitor.SubscribeMessages, false, 3, 30))

	rec, err := s.Get(ctx, monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Counts[monitor.FieldSMC])
	assert.Equal(t, int64(3), rec.Counts[monitor.FieldTSMC])
}

func TestStore_ConcurrentUpdatesSumCorrectly(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Update(ctx, "p1", "topic1", monitor.PublishMessages, false, 1, 1)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "topic1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.Counts[monitor.FieldMC])
	assert.InDelta(t, 1000.0/1024, rec.KBytes[monitor.FieldMB], 0.0001)
}

func TestStore_ListPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: name}))
	}

	page, err := s.List(ctx, monitor.ListOptions{Type: monitor.TypeTopic, Project: "p1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)

	page2, err := s.List(ctx, monitor.ListOptions{Type: monitor.TypeTopic, Project: "p1", Marker: page.NextMarker, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page2.Records, 1)
}
