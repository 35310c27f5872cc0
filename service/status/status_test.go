package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/data"
)

func writeStatuses(t *testing.T, path string, statuses []model.AnalysisStatus) {
	t.Helper()
	b, err := json.Marshal(statuses)
	require.NoError(t, err)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, b, 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func newTimed(t *testing.T) (IService, string) {
	t.Helper()
	dir := t.TempDir()
	cfgSvc := config.NewFromMap(map[string]string{
		"INPUT_FOLDER":             dir,
		"STATUS_POLL_PERIOD_MSECS": "5",
	})
	svc := NewTimed(context.Background(), cfgSvc, data.NewFilesDB(cfgSvc))
	t.Cleanup(svc.Finalize)
	return svc, filepath.Join(dir, "statuses.json")
}

func TestTimedPollsWatchedStreams(t *testing.T) {
	svc, path := newTimed(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	writeStatuses(t, path, []model.AnalysisStatus{
		{StreamID: 1, Timestamp: now, ZoneStatuses: []model.ZoneStatus{{Zone: "door"}}},
		{StreamID: 2, Timestamp: now},
	})

	svc.Watch(1)
	require.Eventually(t, func() bool {
		_, ok := svc.LatestStatus(1)
		return ok
	}, time.Second, 5*time.Millisecond)

	s, _ := svc.LatestStatus(1)
	assert.Equal(t, "door", s.ZoneStatuses[0].Zone)
	assert.True(t, now.Equal(s.Timestamp))

	_, ok := svc.LatestStatus(2)
	assert.False(t, ok, "unwatched streams are not tracked")
}

func TestTimedKeepsNewestStatus(t *testing.T) {
	svc, path := newTimed(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	svc.Watch(1)
	writeStatuses(t, path, []model.AnalysisStatus{{StreamID: 1, Timestamp: now, ZoneStatuses: []model.ZoneStatus{{Zone: "new"}}}})
	require.Eventually(t, func() bool {
		_, ok := svc.LatestStatus(1)
		return ok
	}, time.Second, 5*time.Millisecond)

	writeStatuses(t, path, []model.AnalysisStatus{{StreamID: 1, Timestamp: now.Add(-time.Minute), ZoneStatuses: []model.ZoneStatus{{Zone: "old"}}}})
	time.Sleep(50 * time.Millisecond)

	s, ok := svc.LatestStatus(1)
	require.True(t, ok)
	assert.Equal(t, "new", s.ZoneStatuses[0].Zone)

	writeStatuses(t, path, []model.AnalysisStatus{{StreamID: 1, Timestamp: now.Add(time.Minute), ZoneStatuses: []model.ZoneStatus{{Zone: "newer"}}}})
	assert.Eventually(t, func() bool {
		s, _ := svc.LatestStatus(1)
		return len(s.ZoneStatuses) == 1 && s.ZoneStatuses[0].Zone == "newer"
	}, time.Second, 5*time.Millisecond)
}

func TestTimedUnwatchDropsStatus(t *testing.T) {
	svc, path := newTimed(t)
	writeStatuses(t, path, []model.AnalysisStatus{{StreamID: 4, Timestamp: time.Now()}})

	svc.Watch(4)
	svc.Watch(4)
	require.Eventually(t, func() bool {
		_, ok := svc.LatestStatus(4)
		return ok
	}, time.Second, 5*time.Millisecond)

	svc.Unwatch(4)
	_, ok := svc.LatestStatus(4)
	assert.True(t, ok, "still watched once")

	svc.Unwatch(4)
	_, ok = svc.LatestStatus(4)
	assert.False(t, ok)
}

func TestTimedFinalizeStopsPolling(t *testing.T) {
	svc, _ := newTimed(t)
	svc.Finalize()
	svc.Finalize()

	ts := svc.(*timedService)
	select {
	case <-ts.pollDone:
	default:
		t.Fatal("poll goroutine still running")
	}
}

func TestStaticService(t *testing.T) {
	svc := NewStatic()
	now := time.Now()

	_, ok := svc.LatestStatus(1)
	assert.False(t, ok)

	svc.Publish(model.AnalysisStatus{StreamID: 1, Timestamp: now, ZoneStatuses: []model.ZoneStatus{{Zone: "a"}}})
	svc.Publish(model.AnalysisStatus{StreamID: 1, Timestamp: now.Add(-time.Second), ZoneStatuses: []model.ZoneStatus{{Zone: "stale"}}})

	s, ok := svc.LatestStatus(1)
	require.True(t, ok)
	assert.Equal(t, "a", s.ZoneStatuses[0].Zone)

	svc.Watch(1)
	assert.True(t, svc.Watched(1))
	svc.Unwatch(1)
	assert.False(t, svc.Watched(1))
}

func TestStaticServiceLastUnwatchDropsStatus(t *testing.T) {
	svc := NewStatic()
	svc.Watch(1)
	svc.Watch(1)
	svc.Publish(model.AnalysisStatus{StreamID: 1, Timestamp: time.Now()})

	svc.Unwatch(1)
	_, ok := svc.LatestStatus(1)
	assert.True(t, ok, "still watched once")

	svc.Unwatch(1)
	_, ok = svc.LatestStatus(1)
	assert.False(t, ok)
	assert.False(t, svc.Watched(1))
}
