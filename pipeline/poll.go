package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

// frameTracker classifies every poll of the latest-frame slot by sequence
// number.
type frameTracker struct {
	lastSeq  uint64
	polls    int
	fresh    int
	repeated int
	skipped  uint64
}

func (t *frameTracker) observe(f *model.DecodedFrame) bool {
	t.polls++
	if f == nil {
		return false
	}
	if f.Seq == t.lastSeq {
		t.repeated++
		return false
	}
	if t.lastSeq > 0 && f.Seq > t.lastSeq+1 {
		t.skipped += f.Seq - t.lastSeq - 1
	}
	t.fresh++
	t.lastSeq = f.Seq
	return true
}

type procFunc func(snap streaming.Snapshot, fresh bool) error

// poll calls proc fps times per second until canx is cancelled or src is
// done. Errors returned by proc are counted and forwarded to errorStream.
func poll(canx context.Context, name string, src Source, fps int, errorStream chan interface{}, statsStream chan interface{}, proc procFunc) {
	if fps <= 0 {
		fps = 1
	}

	tracker := frameTracker{}
	beginTime := time.Now().Unix()
	errors := 0

	defer func() {
		statsStream <- model.ConsumerStats{
			Name:      name,
			StreamID:  int64(src.ID()),
			Polls:     tracker.polls,
			Fresh:     tracker.fresh,
			Repeated:  tracker.repeated,
			Skipped:   tracker.skipped,
			Errors:    errors,
			Uptime:    time.Now().Unix() - beginTime,
			Timestamp: time.Now().Unix(),
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-canx.Done():
			lgr.Logger.Info(
				"consumer context cancelled",
				slog.String("consumer", name),
				slog.Int64("streamID", int64(src.ID())),
			)
			return

		case <-src.Done():
			lgr.Logger.Info(
				"consumer source closed",
				slog.String("consumer", name),
				slog.Int64("streamID", int64(src.ID())),
			)
			return

		case <-ticker.C:
			snap := src.Snapshot()
			fresh := tracker.observe(snap.Frame)
			if err := proc(snap, fresh); err != nil {
				errors++
				errorStream <- model.GenError(name,
					err,
					map[string]interface{}{
						"streamId": int64(src.ID()),
					},
					"error processing frame")
			}
		}
	}
}

// toMat wraps a decoded BGR frame. The Mat shares memory with the frame and
// must be closed before the frame is dropped. It is read-only unless the frame
// is a private DecodedFrame.Clone; Clone the Mat to keep it longer.
func toMat(f *model.DecodedFrame) (gocv.Mat, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height*3 {
		return gocv.Mat{}, fmt.Errorf("frame %d has invalid dimensions %dx%d for %d bytes", f.Seq, f.Width, f.Height, len(f.Data))
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
}
