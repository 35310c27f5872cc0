package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

var (
	detectionLogsMu sync.Mutex
	detectionLogs   = map[string]*lumberjack.Logger{}
)

// detectionLog returns the shared rotating writer for filename.
func detectionLog(filename string) *lumberjack.Logger {
	detectionLogsMu.Lock()
	defer detectionLogsMu.Unlock()

	if l, ok := detectionLogs[filename]; ok {
		return l
	}
	l := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7, // days
		Compress:   true,
	}
	detectionLogs[filename] = l
	return l
}

var overlayColor = color.RGBA{0, 255, 0, 0}

// OverlaySnapshotter draws the latest detections over the latest frame and
// saves the result as a JPEG. Every snapshot is also logged as one JSON entry
// in the detections log.
func OverlaySnapshotter(canx context.Context, svcs ServicesFactory, src Source, errorStream chan interface{}, statsStream chan interface{}) {
	params := svcs.CfgSvc.GetConsumerParameters(config.OverlaySnapshotterName)
	if err := os.MkdirAll(params.Folder, 0755); err != nil {
		lgr.Logger.Error(
			"overlay snapshotter cannot create folder",
			slog.String("folder", params.Folder),
			slog.Any("error", err),
		)
	}
	detections := detectionLog(svcs.CfgSvc.GetDetectionsLogFile())

	lgr.Logger.Info(
		"overlay snapshotter starting...",
		slog.Int64("streamID", int64(src.ID())),
		slog.Int("fps", params.FPS),
		slog.String("folder", params.Folder),
		slog.String("openCV", gocv.Version()),
	)

	var lastStatus time.Time

	poll(canx, config.OverlaySnapshotterName, src, params.FPS, errorStream, statsStream, func(snap streaming.Snapshot, fresh bool) error {
		if !fresh || snap.Status == nil || !snap.Status.Timestamp.After(lastStatus) {
			return nil
		}
		dets := snap.Status.Detections()
		if len(dets) == 0 {
			return nil
		}

		// Other consumers read the published frame, so draw on a private copy
		frame := snap.Frame.Clone()
		img, err := toMat(frame)
		if err != nil {
			return err
		}
		defer img.Close()

		for _, d := range dets {
			gocv.Rectangle(&img, d.Rect, overlayColor, 2)
			gocv.PutText(&img, fmt.Sprintf("%s %.2f", d.Label, d.Confidence), image.Pt(d.Rect.Min.X, d.Rect.Min.Y-5),
				gocv.FontHersheySimplex, 0.6, overlayColor, 2)
		}

		filename := filepath.Join(params.Folder, fmt.Sprintf("%s_snapshot_%d.jpg", src.ID(), frame.Timestamp.UnixNano()))
		if !gocv.IMWrite(filename, img) {
			return fmt.Errorf("unable to write snapshot %s", filename)
		}
		lastStatus = snap.Status.Timestamp

		age, _ := snap.StatusAge()
		lgr.Logger.Debug(
			"overlay snapshot saved",
			slog.Int64("streamID", int64(src.ID())),
			slog.Uint64("seq", frame.Seq),
			slog.Int("detections", len(dets)),
			slog.Duration("statusAge", age),
			slog.String("file", filename),
		)

		return logDetections(detections, src.ID(), snap, filename, dets)
	})
}

func logDetections(w *lumberjack.Logger, id model.StreamID, snap streaming.Snapshot, filename string, dets []model.Detection) error {
	entry := map[string]interface{}{
		"time":            time.Now().Format(time.RFC3339),
		"streamId":        id,
		"seq":             snap.Frame.Seq,
		"frameTimestamp":  snap.Frame.Timestamp.Format(time.RFC3339Nano),
		"statusTimestamp": snap.Status.Timestamp.Format(time.RFC3339Nano),
		"snapshot":        filename,
		"detections":      dets,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling detections: %w", err)
	}

	if _, err := w.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("writing detections log: %w", err)
	}
	return nil
}
