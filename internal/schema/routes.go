package schema

// Exchange names. All are topic exchanges; each gets a parallel
// "<name>.dlq" exchange for exhausted deliveries.
const (
	ExchangeMediaEvents   = "media_events"
	ExchangeMediaCommands = "media_commands"
	ExchangeAudioOps      = "audio_ops"
	ExchangeWorkerEvents  = "worker_events"
	ExchangeAudioEvents   = "audio_events"
)

// Command routing keys on audio_ops (cmd.cancel rides media_commands).
const (
	RouteCmdPreprocess  = "cmd.preprocess"
	RouteCmdSegment     = "cmd.segment"
	RouteCmdDiarize     = "cmd.diarize"
	RouteCmdEnhance     = "cmd.enhance"
	RouteCmdLangDetect  = "cmd.lang_detect"
	RouteCmdRecognize   = "cmd.recognize"
	RouteCmdTranscode   = "cmd.transcode"
	RouteCmdPostProcess = "cmd.postprocess"
	RouteCmdCancel      = "cmd.cancel"
)

// Event routing keys.
const (
	RouteFileUploaded    = "file.uploaded"
	RoutePreprocessDone  = "preprocess.done"
	RouteSegmentDone     = "segment.done"
	RouteEnhancementDone = "enhancement.done"
	RouteLangDetectDone  = "lang_detect.done"
	RouteRecognitionDone = "recognition.done"
	RouteDiarizationDone = "diarization.done"
	RouteTranscodeDone   = "transcode.done"
	RouteJobFinalized    = "job.finalized"
	RouteJobFailed       = "event.job_failed"
	RouteJobCancelled    = "event.job_cancelled"
	RouteDLQ             = "dlq"
)
