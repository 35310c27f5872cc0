package config

const (
	ThumbnailViewerName    = "thumbnailViewer"
	OverlaySnapshotterName = "overlaySnapshotter"
	MP4RecorderName        = "mp4Recorder"
)

type ConsumerParameters struct {
	FPS          int
	ClipDuration int
	Folder       string
}

type IService interface {
	GetModeMaxShutdownTime() int
	GetInputFolder() string
	GetStreamsInputFile() string
	GetStatusesInputFile() string
	GetRecordingsFolder() string
	GetDetectionsLogFile() string
	GetMaxStreams() int
	GetStatsPeriodicTimeout() int
	GetStatusPollPeriodMsecs() int
	GetDecodeMaxRetries() int
	GetDecodeRetryDelayMsecs() int
	GetDecodeMaxRetryDelayMsecs() int
	GetDecodeReconnectAfter() int
	GetDecodeReadTimeoutMsecs() int
	GetConsumers() []string
	GetConsumerParameters(name string) ConsumerParameters
}
