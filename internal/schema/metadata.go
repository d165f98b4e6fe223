package schema

import "github.com/soundlane/audio-pipeline/internal/align"

// JobAssets points at the retained artifacts of a finished job.
type JobAssets struct {
	Original string `json:"original"`
	HLS      string `json:"hls"`
	TextFile string `json:"text_file"`
}

// JobResults holds the aligned transcript.
type JobResults struct {
	TranscriptAligned []align.Segment `json:"transcript_aligned"`
}

// JobMetadata is the final job record written to results/<id>/metadata.json.
// ProcessedAt is ISO-8601 UTC.
type JobMetadata struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	ProcessedAt string     `json:"processed_at"`
	Assets      JobAssets  `json:"assets"`
	Results     JobResults `json:"results"`
}
