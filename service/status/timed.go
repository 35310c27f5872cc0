package status

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/config"
	"github.com/khaledhikmat/vs-stream/service/data"
	"github.com/khaledhikmat/vs-stream/service/lgr"
)

const defaultPollPeriod = 500 * time.Millisecond

type timedService struct {
	CanxCtx context.Context
	CfgSvc  config.IService
	DataSvc data.IService

	mu       sync.RWMutex
	watched  map[model.StreamID]int
	statuses map[model.StreamID]model.AnalysisStatus

	pollCancel context.CancelFunc
	pollDone   chan struct{}
	finalize   sync.Once
}

// NewTimed returns a status service that polls the data service for the
// watched streams every GetStatusPollPeriodMsecs until canxCtx is cancelled
// or Finalize is called.
func NewTimed(canxCtx context.Context, cfgSvc config.IService, dataSvc data.IService) IService {
	pollCtx, pollCancel := context.WithCancel(canxCtx)
	svc := &timedService{
		CanxCtx:    canxCtx,
		CfgSvc:     cfgSvc,
		DataSvc:    dataSvc,
		watched:    map[model.StreamID]int{},
		statuses:   map[model.StreamID]model.AnalysisStatus{},
		pollCancel: pollCancel,
		pollDone:   make(chan struct{}),
	}

	go svc.run(pollCtx)

	return svc
}

func (svc *timedService) LatestStatus(id model.StreamID) (model.AnalysisStatus, bool) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	s, ok := svc.statuses[id]
	return s, ok
}

func (svc *timedService) Watch(id model.StreamID) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.watched[id]++
}

// Unwatch drops the cached status once nobody watches id anymore.
func (svc *timedService) Unwatch(id model.StreamID) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.watched[id] > 1 {
		svc.watched[id]--
		return
	}
	delete(svc.watched, id)
	delete(svc.statuses, id)
}

// Finalize stops polling and waits for the poll goroutine to exit.
func (svc *timedService) Finalize() {
	svc.finalize.Do(func() {
		svc.pollCancel()
		<-svc.pollDone
	})
}

func (svc *timedService) run(ctx context.Context) {
	defer close(svc.pollDone)

	period := time.Duration(svc.CfgSvc.GetStatusPollPeriodMsecs()) * time.Millisecond
	if period <= 0 {
		period = defaultPollPeriod
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info(
				"status timed service context cancelled",
			)
			return
		case <-ticker.C:
			svc.poll()
		}
	}
}

func (svc *timedService) poll() {
	ids := svc.watchedIDs()
	if len(ids) == 0 {
		return
	}

	statuses, err := svc.DataSvc.RetrieveZoneStatuses(ids)
	if err != nil {
		lgr.Logger.Error(
			"status timed service - error retrieving statuses",
			slog.Int("streams", len(ids)),
			slog.Any("error", xerrors.New(err.Error())),
		)
		_ = svc.DataSvc.NewError(model.GenError("statusPoller", err, nil, "error retrieving statuses"))
		return
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, s := range statuses {
		// a stream may have been unwatched while we were reading
		if svc.watched[s.StreamID] == 0 {
			continue
		}
		keepNewest(svc.statuses, s)
	}
}

func (svc *timedService) watchedIDs() []model.StreamID {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	ids := make([]model.StreamID, 0, len(svc.watched))
	for id := range svc.watched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
