package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/data"
	"github.com/khaledhikmat/vs-stream/service/lgr"
	"github.com/khaledhikmat/vs-stream/streaming"
)

type ServicesFactory struct {
	CfgSvc  config.IService
	DataSvc data.IService
}

// Source is the read side of a synced stream reader.
type Source interface {
	ID() model.StreamID
	Snapshot() streaming.Snapshot
	Done() <-chan struct{}
}

// Signature of consumer function. A consumer polls its source until canx is
// cancelled or the source is done, then reports its stats on statsStream.
type Consumer func(canx context.Context, svcs ServicesFactory, src Source, errorStream chan interface{}, statsStream chan interface{})

var (
	consumersMu   sync.RWMutex
	consumerProcs = map[string]Consumer{}
)

func RegisterConsumer(name string, consumer Consumer) {
	consumersMu.Lock()
	defer consumersMu.Unlock()

	if _, ok := consumerProcs[name]; ok {
		lgr.Logger.Warn("consumer already registered", slog.String("name", name))
		return
	}
	consumerProcs[name] = consumer
}

func LookupConsumer(name string) (Consumer, bool) {
	consumersMu.RLock()
	defer consumersMu.RUnlock()
	c, ok := consumerProcs[name]
	return c, ok
}

func init() {
	RegisterConsumer(config.ThumbnailViewerName, ThumbnailViewer)
	RegisterConsumer(config.OverlaySnapshotterName, OverlaySnapshotter)
	RegisterConsumer(config.MP4RecorderName, MP4Recorder)
}
