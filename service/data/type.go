package data

import (
	"errors"

	"github.com/khaledhikmat/vs-stream/model"
)

var ErrStreamNotFound = errors.New("stream configuration not found")

type IService interface {
	RetrieveStreamConfigurations() ([]model.StreamConfiguration, error)
	RetrieveStreamConfiguration(id model.StreamID) (model.StreamConfiguration, error)
	RetrieveStreamURL(id model.StreamID) (string, error)
	RetrieveZoneStatuses(ids []model.StreamID) ([]model.AnalysisStatus, error)

	NewError(err interface{}) error
	NewReaderStats(stats model.ReaderStats) error
	NewConsumerStats(stats model.ConsumerStats) error
	NewManagerStats(stats model.ManagerStats) error
}
