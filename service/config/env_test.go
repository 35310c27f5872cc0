package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	svc := NewFromMap(nil)

	assert.Equal(t, 5, svc.GetModeMaxShutdownTime())
	assert.Equal(t, "./settings/streams.json", svc.GetStreamsInputFile())
	assert.Equal(t, []string{ThumbnailViewerName}, svc.GetConsumers())
	assert.Equal(t, 6, svc.GetConsumerParameters(MP4RecorderName).ClipDuration)
	assert.Equal(t, ConsumerParameters{}, svc.GetConsumerParameters("unknown"))
}

func TestOverrides(t *testing.T) {
	svc := NewFromMap(map[string]string{
		"INPUT_FOLDER":       "/tmp/vs",
		"DECODE_MAX_RETRIES": "9",
		"CONSUMERS":          " mp4Recorder, ,thumbnailViewer ",
		"RECORDINGS_FOLDER":  "/tmp/rec",
	})

	assert.Equal(t, "/tmp/vs/statuses.json", svc.GetStatusesInputFile())
	assert.Equal(t, 9, svc.GetDecodeMaxRetries())
	assert.Equal(t, []string{MP4RecorderName, ThumbnailViewerName}, svc.GetConsumers())
	assert.Equal(t, "/tmp/rec", svc.GetConsumerParameters(OverlaySnapshotterName).Folder)
}

func TestInvalidNumberFallsBack(t *testing.T) {
	svc := NewFromMap(map[string]string{
		"MAX_STREAMS":              "lots",
		"STATUS_POLL_PERIOD_MSECS": "-3",
	})

	assert.Equal(t, 16, svc.GetMaxStreams())
	assert.Equal(t, 500, svc.GetStatusPollPeriodMsecs())
}
