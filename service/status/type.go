package status

import "github.com/khaledhikmat/vs-stream/model"

// IService publishes the newest analysis status per stream. Only watched
// streams are tracked.
type IService interface {
	LatestStatus(id model.StreamID) (model.AnalysisStatus, bool)
	Watch(id model.StreamID)
	Unwatch(id model.StreamID)
	Finalize()
}
