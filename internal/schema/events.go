package schema

// SpeakerTurn is one diarization output: a contiguous interval attributed
// to a single speaker label. Times are global seconds.
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// SegmentInfo describes one non-silent chunk of the cleaned audio.
type SegmentInfo struct {
	Index   int    `json:"index"`
	S3Path  string `json:"s3_path"`
	StartMS int    `json:"start_ms"`
	EndMS   int    `json:"end_ms"`
}

// FileUploadedEvent enters the pipeline. StoragePath is a prefix.
type FileUploadedEvent struct {
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id"`
	StoragePath string `json:"storage_path"`
}

// PreprocessCompletedEvent reports the normalized 16 kHz mono WAV.
type PreprocessCompletedEvent struct {
	JobID          string `json:"job_id"`
	CleanAudioPath string `json:"clean_audio_path"`
}

// SegmentCompletedEvent reports all chunks at once; AudioPath echoes the
// clean audio so the transcode fan-out does not need another lookup.
type SegmentCompletedEvent struct {
	JobID     string        `json:"job_id"`
	AudioPath string        `json:"audio_path"`
	Segments  []SegmentInfo `json:"segments"`
}

// EnhancementCompletedEvent reports the chunk after SNR triage. S3Path is
// the enhanced object when denoising ran, otherwise the original chunk.
type EnhancementCompletedEvent struct {
	JobID      string  `json:"job_id"`
	Index      int     `json:"index"`
	S3Path     string  `json:"s3_path"`
	SNR        float64 `json:"snr"`
	IsDenoised bool    `json:"is_denoised"`
	StartMS    int     `json:"start_ms"`
	EndMS      int     `json:"end_ms"`
}

// LanguageDetectionCompletedEvent carries the detected language for a chunk.
type LanguageDetectionCompletedEvent struct {
	JobID       string  `json:"job_id"`
	Language    string  `json:"language"`
	Probability float64 `json:"probability"`
	Index       int     `json:"index"`
	InputPath   string  `json:"input_path"`
	StartMS     int     `json:"start_ms"`
	EndMS       int     `json:"end_ms"`
}

// DiarizationCompletedEvent carries the full speaker turn list.
type DiarizationCompletedEvent struct {
	JobID        string        `json:"job_id"`
	SpeakerTurns []SpeakerTurn `json:"speaker_segments"`
}

// RecognitionCompletedEvent reports one transcribed chunk.
type RecognitionCompletedEvent struct {
	JobID            string  `json:"job_id"`
	Index            int     `json:"index"`
	Text             string  `json:"text"`
	Confidence       float64 `json:"confidence"`
	StartMS          int     `json:"start_ms"`
	EndMS            int     `json:"end_ms"`
	TranscriptS3Path string  `json:"transcript_s3_path"`
}

// TranscodeCompletedEvent reports the HLS playlist location.
type TranscodeCompletedEvent struct {
	JobID   string `json:"job_id"`
	HLSPath string `json:"hls_path"`
}

// JobCompletedEvent is published by the postprocessor once the final
// metadata has been written.
type JobCompletedEvent struct {
	JobID        string `json:"job_id"`
	MetadataPath string `json:"metadata_path"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// JobFailedEvent notifies subscribers of a terminal failure.
type JobFailedEvent struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// JobCancelledEvent notifies subscribers of an external cancellation.
type JobCancelledEvent struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// TranscriptRecord is one entry of the per-job recognition list and of the
// fan-in manifest. Times are global milliseconds.
type TranscriptRecord struct {
	Index            int    `json:"index"`
	StartMS          int    `json:"start_ms"`
	EndMS            int    `json:"end_ms"`
	TranscriptS3Path string `json:"transcript_s3_path"`
}

// ProgressFrame is published on job_progress:<id> for every state mutation.
type ProgressFrame struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}
