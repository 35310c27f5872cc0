package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

type clipFrame struct {
	Mat       gocv.Mat
	Timestamp time.Time
}

// WARNING:
// GoCV writes uncompressed frames into the container, so clips get large.
// MP4Recorder samples the latest frame at the configured FPS and writes a
// clip every ClipDuration seconds.
func MP4Recorder(canx context.Context, svcs ServicesFactory, src Source, errorStream chan interface{}, statsStream chan interface{}) {
	params := svcs.CfgSvc.GetConsumerParameters(config.MP4RecorderName)
	if err := os.MkdirAll(params.Folder, 0755); err != nil {
		lgr.Logger.Error(
			"mp4 recorder cannot create folder",
			slog.String("folder", params.Folder),
			slog.Any("error", err),
		)
	}

	clipDuration := time.Duration(params.ClipDuration) * time.Second
	if clipDuration <= 0 {
		clipDuration = 6 * time.Second
	}

	lgr.Logger.Info(
		"mp4 recorder initialized...",
		slog.Int64("streamID", int64(src.ID())),
		slog.Int("fps", params.FPS),
		slog.Duration("clipDuration", clipDuration),
	)

	var buffer []clipFrame
	var recordingTime = time.Now()

	flush := func(frames []clipFrame) {
		defer func() {
			for _, f := range frames {
				f.Mat.Close()
			}
			if r := recover(); r != nil {
				lgr.Logger.Error("flush panic recovered", slog.Any("panic", r))
			}
		}()

		if len(frames) == 0 {
			return
		}

		fn, err := saveFramesAsMP4(params.Folder, src.ID(), params.FPS, frames)
		if err != nil {
			errorStream <- model.GenError(config.MP4RecorderName,
				err,
				map[string]interface{}{
					"streamId": int64(src.ID()),
				},
				"error saving frames as mp4")
			return
		}

		lgr.Logger.Info(
			"mp4 recorder clip saved",
			slog.Int64("streamID", int64(src.ID())),
			slog.Int("frames", len(frames)),
			slog.String("file", fn),
		)
	}

	// Final flush on shutdown
	defer func() {
		flush(buffer)
	}()

	poll(canx, config.MP4RecorderName, src, params.FPS, errorStream, statsStream, func(snap streaming.Snapshot, fresh bool) error {
		if !fresh {
			return nil
		}

		img, err := toMat(snap.Frame)
		if err != nil {
			return err
		}
		buffer = append(buffer, clipFrame{
			Mat:       img.Clone(),
			Timestamp: snap.Frame.Timestamp,
		})
		img.Close()

		if time.Since(recordingTime) >= clipDuration {
			clip := buffer
			buffer = make([]clipFrame, 0, len(clip))
			recordingTime = time.Now()
			go flush(clip)
		}
		return nil
	})
}

func saveFramesAsMP4(folder string, id model.StreamID, fps int, frames []clipFrame) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames to save")
	}

	first := frames[0].Mat
	if first.Empty() || first.Cols() <= 0 || first.Rows() <= 0 {
		return "", fmt.Errorf("invalid frame dimensions: cols=%d, rows=%d", first.Cols(), first.Rows())
	}
	if fps <= 0 {
		fps = 1
	}

	filename := filepath.Join(folder, fmt.Sprintf("%s_recording_%d.mp4", id, frames[0].Timestamp.Unix()))
	writer, err := gocv.VideoWriterFile(filename, "avc1", float64(fps), first.Cols(), first.Rows(), true)
	if err != nil {
		return "", err
	}
	defer writer.Close()

	resized := gocv.NewMat()
	defer resized.Close()

	for _, f := range frames {
		if f.Mat.Cols() == first.Cols() && f.Mat.Rows() == first.Rows() {
			if err := writer.Write(f.Mat); err != nil {
				return "", err
			}
			continue
		}

		lgr.Logger.Warn(
			"frame dimensions do not match video dimensions, resizing frame",
			slog.Int("frame_cols", f.Mat.Cols()),
			slog.Int("frame_rows", f.Mat.Rows()),
			slog.Int("video_cols", first.Cols()),
			slog.Int("video_rows", first.Rows()),
		)
		if err := gocv.Resize(f.Mat, &resized, image.Pt(first.Cols(), first.Rows()), 0, 0, gocv.InterpolationLinear); err != nil {
			return "", err
		}
		if err := writer.Write(resized); err != nil {
			return "", err
		}
	}

	return filename, nil
}
