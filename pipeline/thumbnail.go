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

	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

const (
	thumbnailWidth  = 160
	thumbnailPeriod = time.Second
)

// ThumbnailViewer renders the stream the way a grid cell in a viewer would:
// it polls at the configured FPS and refreshes a small thumbnail on disk.
func ThumbnailViewer(canx context.Context, svcs ServicesFactory, src Source, errorStream chan interface{}, statsStream chan interface{}) {
	params := svcs.CfgSvc.GetConsumerParameters(config.ThumbnailViewerName)
	folder := svcs.CfgSvc.GetRecordingsFolder()
	if err := os.MkdirAll(folder, 0755); err != nil {
		lgr.Logger.Error(
			"thumbnail viewer cannot create folder",
			slog.String("folder", folder),
			slog.Any("error", err),
		)
	}

	filename := filepath.Join(folder, fmt.Sprintf("%s_thumbnail.jpg", src.ID()))
	var lastWrite time.Time

	lgr.Logger.Info(
		"thumbnail viewer starting...",
		slog.Int64("streamID", int64(src.ID())),
		slog.Int("fps", params.FPS),
		slog.String("thumbnail", filename),
	)

	poll(canx, config.ThumbnailViewerName, src, params.FPS, errorStream, statsStream, func(snap streaming.Snapshot, fresh bool) error {
		if !fresh || time.Since(lastWrite) < thumbnailPeriod {
			return nil
		}

		img, err := toMat(snap.Frame)
		if err != nil {
			return err
		}
		defer img.Close()

		thumb := gocv.NewMat()
		defer thumb.Close()

		height := img.Rows() * thumbnailWidth / img.Cols()
		if height <= 0 {
			height = 1
		}
		if err := gocv.Resize(img, &thumb, image.Pt(thumbnailWidth, height), 0, 0, gocv.InterpolationArea); err != nil {
			return err
		}

		if !gocv.IMWrite(filename, thumb) {
			return fmt.Errorf("unable to write thumbnail %s", filename)
		}
		lastWrite = time.Now()
		return nil
	})
}
