package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-stream/model"
)

// StatusSource answers with the newest analysis status known for a stream.
type StatusSource interface {
	LatestStatus(id model.StreamID) (model.AnalysisStatus, bool)
}

// Watcher is implemented by status sources that only poll streams someone
// is interested in.
type Watcher interface {
	Watch(id model.StreamID)
	Unwatch(id model.StreamID)
}

// Snapshot pairs the latest frame with the latest status. The two are read
// independently and are not guaranteed to describe the same instant.
type Snapshot struct {
	Frame  *model.DecodedFrame
	Status *model.AnalysisStatus
}

// StatusAge is how far the status lags behind the frame.
func (s Snapshot) StatusAge() (time.Duration, bool) {
	if s.Frame == nil || s.Status == nil {
		return 0, false
	}
	return s.Frame.Timestamp.Sub(s.Status.Timestamp), true
}

type SyncedStreamReader struct {
	id          model.StreamID
	reader      *StreamReader
	poller      StatusSource
	unwatchOnce sync.Once
}

func NewSyncedStreamReader(id model.StreamID, reader *StreamReader, poller StatusSource) *SyncedStreamReader {
	if w, ok := poller.(Watcher); ok {
		w.Watch(id)
	}

	return &SyncedStreamReader{
		id:     id,
		reader: reader,
		poller: poller,
	}
}

func (s *SyncedStreamReader) ID() model.StreamID {
	return s.id
}

func (s *SyncedStreamReader) Reader() *StreamReader {
	return s.reader
}

// Snapshot never blocks.
func (s *SyncedStreamReader) Snapshot() Snapshot {
	snap := Snapshot{Frame: s.reader.LatestFrame()}
	if s.poller != nil {
		if status, ok := s.poller.LatestStatus(s.id); ok {
			snap.Status = &status
		}
	}
	return snap
}

func (s *SyncedStreamReader) IsAlive() bool {
	return s.reader.IsAlive()
}

func (s *SyncedStreamReader) LastError() error {
	return s.reader.LastError()
}

func (s *SyncedStreamReader) Done() <-chan struct{} {
	return s.reader.Done()
}

func (s *SyncedStreamReader) Stats() model.ReaderStats {
	stats := s.reader.Stats()
	stats.StreamID = int64(s.id)
	return stats
}

func (s *SyncedStreamReader) Close() {
	s.reader.Close()
	s.unwatchOnce.Do(func() {
		if w, ok := s.poller.(Watcher); ok {
			w.Unwatch(s.id)
		}
	})
}

func (s *SyncedStreamReader) WaitUntilClosed() {
	s.reader.WaitUntilClosed()
}

func (s *SyncedStreamReader) WaitContext(ctx context.Context) error {
	return s.reader.WaitContext(ctx)
}
