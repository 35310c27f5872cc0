package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/pipeline"
	"github.com/khaledhikmat/vs-stream/service/data"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory, mgr *streaming.StreamManager) error

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.ManagerStats:
		procManagerStats(datasvc, stats)
	case model.ReaderStats:
		procReaderStats(datasvc, stats)
	case model.ConsumerStats:
		procConsumerStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procManagerStats(datasvc data.IService, stats model.ManagerStats) {
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}
	err := datasvc.NewManagerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store manager stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procReaderStats(datasvc data.IService, stats model.ReaderStats) {
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}
	err := datasvc.NewReaderStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store reader stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procConsumerStats(datasvc data.IService, stats model.ConsumerStats) {
	err := datasvc.NewConsumerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store consumer stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}

// startStreams starts every configured stream. Streams that fail to start
// are reported on procError and skipped.
func startStreams(canxCtx context.Context, svcs pipeline.ServicesFactory, mgr *streaming.StreamManager, proc string) ([]model.StreamConfiguration, []*streaming.SyncedStreamReader, error) {
	cfgs, err := svcs.DataSvc.RetrieveStreamConfigurations()
	if err != nil {
		return nil, nil, err
	}

	var started []model.StreamConfiguration
	var readers []*streaming.SyncedStreamReader
	for _, cfg := range cfgs {
		url, err := svcs.DataSvc.RetrieveStreamURL(cfg.ID)
		if err != nil {
			procError(svcs.DataSvc, model.GenError(proc,
				err,
				map[string]interface{}{
					"streamId": int64(cfg.ID),
				},
				"error resolving url for stream: %s",
				cfg.Name))
			continue
		}

		r, err := mgr.StartStreaming(canxCtx, cfg, url)
		if err != nil {
			procError(svcs.DataSvc, model.GenError(proc,
				err,
				map[string]interface{}{
					"streamId": int64(cfg.ID),
				},
				"error starting stream: %s",
				cfg.Name))
			continue
		}

		started = append(started, cfg)
		readers = append(readers, r)
	}

	return started, readers, nil
}
