package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-stream/model"
	"github.com/khaledhikmat/vs-stream/service/config"
)

type filesDBService struct {
	CfgSvc config.IService

	// serializes read-modify-write of the stats and error files
	mu sync.Mutex
}

type streamRecord struct {
	PlaybackURL string `json:"playback_url"`
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) RetrieveStreamConfigurations() ([]model.StreamConfiguration, error) {
	configs, _, err := svc.retrieveStreams()
	return configs, err
}

func (svc *filesDBService) RetrieveStreamConfiguration(id model.StreamID) (model.StreamConfiguration, error) {
	configs, _, err := svc.retrieveStreams()
	if err != nil {
		return model.StreamConfiguration{}, err
	}

	for _, cfg := range configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}

	return model.StreamConfiguration{}, fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
}

// RetrieveStreamURL returns the playback url the server advertises for a
// stream. Without an explicit playback url the connection options are used.
func (svc *filesDBService) RetrieveStreamURL(id model.StreamID) (string, error) {
	configs, records, err := svc.retrieveStreams()
	if err != nil {
		return "", err
	}

	for i, cfg := range configs {
		if cfg.ID != id {
			continue
		}

		if records[i].PlaybackURL != "" {
			return records[i].PlaybackURL, nil
		}

		switch cfg.ConnType {
		case model.ConnIPCamera:
			return cfg.ConnectionOptions.URL, nil
		case model.ConnWebcam:
			if cfg.ConnectionOptions.DeviceID != nil {
				return strconv.Itoa(*cfg.ConnectionOptions.DeviceID), nil
			}
		case model.ConnFile:
			if cfg.ConnectionOptions.Filepath != "" {
				return cfg.ConnectionOptions.Filepath, nil
			}
		}

		return "", fmt.Errorf("stream %s has no playback url", id)
	}

	return "", fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
}

func (svc *filesDBService) RetrieveZoneStatuses(ids []model.StreamID) ([]model.AnalysisStatus, error) {
	data, err := os.ReadFile(svc.CfgSvc.GetStatusesInputFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// WARNING: no analysis has been published yet
			return nil, nil
		}
		return nil, err
	}

	statuses := []model.AnalysisStatus{}
	err = json.Unmarshal(data, &statuses)
	if err != nil {
		return nil, err
	}

	wanted := make(map[model.StreamID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var result []model.AnalysisStatus
	for _, status := range statuses {
		if wanted[status.StreamID] {
			result = append(result, status)
		}
	}

	return result, nil
}

func (svc *filesDBService) retrieveStreams() ([]model.StreamConfiguration, []streamRecord, error) {
	data, err := os.ReadFile(svc.CfgSvc.GetStreamsInputFile())
	if err != nil {
		return nil, nil, err
	}

	raws := []json.RawMessage{}
	err = json.Unmarshal(data, &raws)
	if err != nil {
		return nil, nil, err
	}

	configs := make([]model.StreamConfiguration, 0, len(raws))
	records := make([]streamRecord, 0, len(raws))
	for i, raw := range raws {
		var cfg model.StreamConfiguration
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, nil, fmt.Errorf("stream entry %d: %w", i, err)
		}

		var record streamRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, nil, fmt.Errorf("stream entry %d: %w", i, err)
		}

		configs = append(configs, cfg)
		records = append(records, record)
	}

	return configs, records, nil
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		return fmt.Errorf("unsupported error value %T", err)
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(errorData, "errors", svc.CfgSvc)
}

func (svc *filesDBService) NewReaderStats(stats model.ReaderStats) error {
	stats.Timestamp = time.Now().Unix()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(stats, "reader-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewConsumerStats(stats model.ConsumerStats) error {
	stats.Timestamp = time.Now().Unix()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(stats, "consumer-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewManagerStats(stats model.ManagerStats) error {
	stats.Timestamp = time.Now().Unix()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(stats, "manager-stats", svc.CfgSvc)
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntities[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	// Write the JSON data to the file (with truncation)
	output := fmt.Sprintf("%s/%s.json", cfgsvc.GetInputFolder(), filename)
	return os.WriteFile(output, data, 0644)
}

func retrieveEntities[T any](filename string, cfgsvc config.IService) ([]T, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%s.json", cfgsvc.GetInputFolder(), filename))
	if err != nil {
		// WARNING: File not found, return empty slice
		return []T{}, nil
	}

	entities := []T{}
	err = json.Unmarshal(data, &entities)
	if err != nil {
		return nil, err
	}

	return entities, nil
}
