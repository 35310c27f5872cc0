package mode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/pipeline"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

type viewedStream struct {
	Config model.StreamConfiguration
	Reader *streaming.SyncedStreamReader
	CanxFn context.CancelFunc
}

// The viewer starts every configured stream and runs the configured consumers
// against each of them until cancelled.
func Viewer(canxCtx context.Context, svcs pipeline.ServicesFactory, mgr *streaming.StreamManager) error {
	// Create an error stream
	errorStream := make(chan interface{})

	// Create consumers stats stream
	statsStream := make(chan interface{})

	// Streams report here when their reader stops on its own
	deadStream := make(chan model.StreamID)

	cfgs, readers, err := startStreams(canxCtx, svcs, mgr, "viewer")
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		return fmt.Errorf("viewer: no stream could be started")
	}

	consumerNames := svcs.CfgSvc.GetConsumers()
	runningStreams := map[model.StreamID]viewedStream{}

	for i, r := range readers {
		// Create a child context for the consumers
		// to allow us to stop them without cancelling the main context
		consumerCanxCtx, consumerCanxFn := context.WithCancel(canxCtx)

		for _, name := range consumerNames {
			consumer, ok := pipeline.LookupConsumer(name)
			if !ok {
				lgr.Logger.Warn(
					"consumer not found",
					slog.String("name", name),
				)
				continue
			}
			go consumer(consumerCanxCtx, svcs, r, errorStream, statsStream)
		}

		go func(r *streaming.SyncedStreamReader) {
			select {
			case <-r.Done():
				select {
				case deadStream <- r.ID():
				case <-canxCtx.Done():
				}
			case <-canxCtx.Done():
			}
		}(r)

		runningStreams[r.ID()] = viewedStream{
			Config: cfgs[i],
			Reader: r,
			CanxFn: consumerCanxFn,
		}
	}

	lgr.Logger.Info(
		"viewer started",
		slog.Int("streams", len(runningStreams)),
		slog.Int("configured", len(cfgs)),
		slog.Any("consumers", consumerNames),
	)

	statsPeriod := time.Duration(svcs.CfgSvc.GetStatsPeriodicTimeout()) * time.Second
	if statsPeriod <= 0 {
		statsPeriod = 30 * time.Second
	}
	statsTicker := time.NewTicker(statsPeriod)
	defer statsTicker.Stop()

	// Wait for cancellation, dead streams, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"viewer context cancelled",
			)
			goto resume

		case id := <-deadStream:
			s, ok := runningStreams[id]
			if !ok {
				continue
			}

			lgr.Logger.Warn(
				"stream stopped",
				slog.Int64("streamID", int64(id)),
				slog.String("name", s.Config.Name),
				slog.Any("error", s.Reader.LastError()),
			)
			if err := s.Reader.LastError(); err != nil {
				procError(svcs.DataSvc, model.GenError("viewer",
					err,
					map[string]interface{}{
						"streamId": int64(id),
					},
					"stream stopped: %s",
					s.Config.Name))
			}
			procStats(svcs.DataSvc, s.Reader.Stats())

			s.CanxFn()
			if _, err := mgr.CloseStreamAsync(id); err != nil {
				lgr.Logger.Debug(
					"stream already unregistered",
					slog.Int64("streamID", int64(id)),
					slog.Any("error", err),
				)
			}
			delete(runningStreams, id)

			if len(runningStreams) == 0 {
				lgr.Logger.Info(
					"viewer has no running streams left",
				)
				goto resume
			}

		case <-statsTicker.C:
			for _, s := range runningStreams {
				procStats(svcs.DataSvc, s.Reader.Stats())
			}
			procStats(svcs.DataSvc, mgr.Stats())

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Wait in a non-blocking way for the shutdown period for the streams to close
	// and the consumers to report their stats as they are exiting
resume:
	for _, s := range runningStreams {
		s.CanxFn()
	}

	shutdown := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	lgr.Logger.Info(
		"viewer is waiting for all streams and consumers to exit",
		slog.Duration("period", shutdown),
	)

	closeCtx, closeCanxFn := context.WithTimeout(context.Background(), shutdown)
	defer closeCanxFn()

	closeResult := make(chan error, 1)
	go func() {
		closeResult <- mgr.CloseContext(closeCtx)
	}()

	// The only way to exit is to wait for the shutdown duration
	timer := time.NewTimer(shutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"viewer shutdown waiting period expired. Exiting now",
				slog.Duration("period", shutdown),
			)
			procStats(svcs.DataSvc, mgr.Stats())
			return nil

		case err := <-closeResult:
			if err != nil {
				lgr.Logger.Error(
					"viewer could not close all streams in time",
					slog.Any("error", err),
				)
				continue
			}
			for _, s := range runningStreams {
				procStats(svcs.DataSvc, s.Reader.Stats())
			}
			lgr.Logger.Info(
				"viewer closed all streams",
			)

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}
