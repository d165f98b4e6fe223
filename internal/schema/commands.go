// Package schema defines the JSON envelopes exchanged over the broker.
// The routing key is the discriminator; bodies are matched field by field.
package schema

// PreprocessCommand asks the preprocessor to normalize the raw upload.
// InputPath is an object-store prefix; the first listed file under it is
// the authoritative input.
type PreprocessCommand struct {
	JobID     string `json:"job_id"`
	InputPath string `json:"input_path"`
}

// SegmentCommand asks the segmenter to split the clean audio into chunks.
type SegmentCommand struct {
	JobID     string `json:"job_id"`
	InputPath string `json:"input_path"`
}

// DiarizeCommand asks the diarizer for speaker turns over the clean audio.
type DiarizeCommand struct {
	JobID     string `json:"job_id"`
	InputPath string `json:"input_path"`
}

// EnhanceCommand carries one chunk through SNR triage and optional denoise.
type EnhanceCommand struct {
	JobID   string `json:"job_id"`
	Index   int    `json:"index"`
	S3Path  string `json:"s3_path"`
	StartMS int    `json:"start_ms"`
	EndMS   int    `json:"end_ms"`
}

// LanguageDetectCommand asks for the spoken language of one chunk.
type LanguageDetectCommand struct {
	JobID     string `json:"job_id"`
	InputPath string `json:"input_path"`
	Index     int    `json:"index"`
	StartMS   int    `json:"start_ms"`
	EndMS     int    `json:"end_ms"`
}

// RecognizeCommand asks for the word-level transcript of one chunk.
// Language may be empty when detection was inconclusive.
type RecognizeCommand struct {
	JobID     string `json:"job_id"`
	InputPath string `json:"input_path"`
	Index     int    `json:"index"`
	StartMS   int    `json:"start_ms"`
	EndMS     int    `json:"end_ms"`
	Language  string `json:"language"`
}

// TranscodeCommand asks for the HLS rendition of the clean audio.
type TranscodeCommand struct {
	JobID     string `json:"job_id"`
	InputPath string `json:"input_path"`
}

// PostProcessCommand triggers the terminal alignment stage. The manifest
// has already been written by the orchestrator when this is published.
type PostProcessCommand struct {
	JobID string `json:"job_id"`
}

// CancelCommand aborts a job.
type CancelCommand struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}
