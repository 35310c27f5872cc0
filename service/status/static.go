package status

import (
	"sync"

	"github.com/khaledhikmat/vs-stream/model"
)

// StaticService holds whatever statuses were last handed to Publish. It is
// used in tests and by tools that drive statuses themselves.
type StaticService struct {
	mu       sync.RWMutex
	statuses map[model.StreamID]model.AnalysisStatus
	watched  map[model.StreamID]int
}

func NewStatic() *StaticService {
	return &StaticService{
		statuses: map[model.StreamID]model.AnalysisStatus{},
		watched:  map[model.StreamID]int{},
	}
}

// Publish keeps status unless a newer one is already held for its stream.
func (svc *StaticService) Publish(status model.AnalysisStatus) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	keepNewest(svc.statuses, status)
}

func (svc *StaticService) LatestStatus(id model.StreamID) (model.AnalysisStatus, bool) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	s, ok := svc.statuses[id]
	return s, ok
}

func (svc *StaticService) Watch(id model.StreamID) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.watched[id]++
}

// Unwatch drops the held status once nobody watches id anymore.
func (svc *StaticService) Unwatch(id model.StreamID) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.watched[id] > 1 {
		svc.watched[id]--
		return
	}
	delete(svc.watched, id)
	delete(svc.statuses, id)
}

func (svc *StaticService) Finalize() {}

// Watched reports whether anyone is interested in id.
func (svc *StaticService) Watched(id model.StreamID) bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.watched[id] > 0
}

func keepNewest(statuses map[model.StreamID]model.AnalysisStatus, status model.AnalysisStatus) bool {
	if cur, ok := statuses[status.StreamID]; ok && !status.Timestamp.After(cur.Timestamp) {
		return false
	}
	statuses[status.StreamID] = status
	return true
}
