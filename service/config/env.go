package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type envService struct {
	lookup func(string) (string, bool)
}

// NewEnv returns a configuration service backed by environment variables.
// Every setting falls back to a hardcoded default when its variable is unset.
func NewEnv() IService {
	return &envService{
		lookup: os.LookupEnv,
	}
}

// NewFromMap is used by tests and tools that want a fixed configuration.
func NewFromMap(values map[string]string) IService {
	return &envService{
		lookup: func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		},
	}
}

func (svc *envService) str(key, def string) string {
	if v, ok := svc.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (svc *envService) num(key string, def int) int {
	v, ok := svc.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return svc.num("MODE_MAX_SHUTDOWN_TIME", 5)
}

func (svc *envService) GetInputFolder() string {
	return svc.str("INPUT_FOLDER", "./settings")
}

func (svc *envService) GetStreamsInputFile() string {
	return svc.str("STREAMS_INPUT_FILE", fmt.Sprintf("%s/streams.json", svc.GetInputFolder()))
}

func (svc *envService) GetStatusesInputFile() string {
	return svc.str("STATUSES_INPUT_FILE", fmt.Sprintf("%s/statuses.json", svc.GetInputFolder()))
}

func (svc *envService) GetRecordingsFolder() string {
	return svc.str("RECORDINGS_FOLDER", "./recordings")
}

func (svc *envService) GetDetectionsLogFile() string {
	return svc.str("DETECTIONS_LOG_FILE", "detections.log")
}

func (svc *envService) GetMaxStreams() int {
	return svc.num("MAX_STREAMS", 16)
}

func (svc *envService) GetStatsPeriodicTimeout() int {
	return svc.num("STATS_PERIODIC_TIMEOUT", 30)
}

func (svc *envService) GetStatusPollPeriodMsecs() int {
	return svc.num("STATUS_POLL_PERIOD_MSECS", 500)
}

func (svc *envService) GetDecodeMaxRetries() int {
	return svc.num("DECODE_MAX_RETRIES", 5)
}

func (svc *envService) GetDecodeRetryDelayMsecs() int {
	return svc.num("DECODE_RETRY_DELAY_MSECS", 1000)
}

func (svc *envService) GetDecodeMaxRetryDelayMsecs() int {
	return svc.num("DECODE_MAX_RETRY_DELAY_MSECS", 30000)
}

func (svc *envService) GetDecodeReconnectAfter() int {
	return svc.num("DECODE_RECONNECT_AFTER", 3)
}

func (svc *envService) GetDecodeReadTimeoutMsecs() int {
	return svc.num("DECODE_READ_TIMEOUT_MSECS", 5000)
}

func (svc *envService) GetConsumers() []string {
	v := svc.str("CONSUMERS", ThumbnailViewerName)
	var names []string
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (svc *envService) GetConsumerParameters(name string) ConsumerParameters {
	switch name {
	case ThumbnailViewerName:
		return ConsumerParameters{
			FPS: svc.num("THUMBNAIL_FPS", 10),
		}
	case OverlaySnapshotterName:
		return ConsumerParameters{
			FPS:    svc.num("SNAPSHOT_FPS", 1),
			Folder: svc.GetRecordingsFolder(),
		}
	case MP4RecorderName:
		return ConsumerParameters{
			FPS:          svc.num("RECORDER_FPS", 15),
			ClipDuration: svc.num("RECORDER_CLIP_DURATION", 6),
			Folder:       svc.GetRecordingsFolder(),
		}
	}

	return ConsumerParameters{}
}
