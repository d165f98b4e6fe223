package storage

import (
	"fmt"
	"time"
)

// Artifact key layout, keyed by job. These prefixes are stable and double
// as the cleanup target list.

// RawKey is where the user upload lands, dated for lifecycle rules.
func RawKey(date time.Time, jobID, filename string) string {
	return fmt.Sprintf("raw/%s/%s/%s", date.Format("2006-01-02"), jobID, filename)
}

// CleanAudioKey is the normalized 16 kHz mono WAV.
func CleanAudioKey(jobID string) string {
	return fmt.Sprintf("clean/%s/audio.wav", jobID)
}

// ChunkKey is one non-silent segment of the clean audio.
func ChunkKey(jobID string, index int) string {
	return fmt.Sprintf("segments/%s/chunk_%04d.wav", jobID, index)
}

// EnhancedChunkKey is the denoised variant of a chunk.
func EnhancedChunkKey(jobID string, index int) string {
	return fmt.Sprintf("enhanced/%s/chunk_%04d.wav", jobID, index)
}

// DiarizationKey holds the speaker turn list.
func DiarizationKey(jobID string) string {
	return fmt.Sprintf("analysis/%s/diarization.json", jobID)
}

// TranscriptChunkKey holds the word list of one recognized chunk, with
// times in chunk-local seconds.
func TranscriptChunkKey(jobID string, index int) string {
	return fmt.Sprintf("transcripts/%s/%d.json", jobID, index)
}

// ManifestKey is the ordered segment listing written once at fan-in.
func ManifestKey(jobID string) string {
	return fmt.Sprintf("analysis/%s/segments_manifest.json", jobID)
}

// TranscriptFinalKey is the analysis copy rewritten on external edits.
func TranscriptFinalKey(jobID string) string {
	return fmt.Sprintf("analysis/%s/transcript_final.json", jobID)
}

// HLSPrefix holds the playlist and its media segments.
func HLSPrefix(jobID string) string {
	return fmt.Sprintf("hls/%s", jobID)
}

// PlaylistKey is the HLS entry point.
func PlaylistKey(jobID string) string {
	return fmt.Sprintf("hls/%s/playlist.m3u8", jobID)
}

// MetadataKey is the final job record.
func MetadataKey(jobID string) string {
	return fmt.Sprintf("results/%s/metadata.json", jobID)
}

// TranscriptTextKey is the flat human-readable transcript.
func TranscriptTextKey(jobID string) string {
	return fmt.Sprintf("results/%s/transcript.txt", jobID)
}

// IntermediatePrefixes enumerates the namespaces dropped after a
// successful run. results/ and hls/ are retained.
func IntermediatePrefixes(jobID string) []string {
	return []string{
		fmt.Sprintf("clean/%s/", jobID),
		fmt.Sprintf("segments/%s/", jobID),
		fmt.Sprintf("enhanced/%s/", jobID),
		fmt.Sprintf("transcripts/%s/", jobID),
	}
}

// AllPrefixes enumerates every job-owned namespace, the cleanup target on
// cancellation or terminal failure.
func AllPrefixes(jobID string) []string {
	return []string{
		fmt.Sprintf("raw/%s/", jobID),
		fmt.Sprintf("clean/%s/", jobID),
		fmt.Sprintf("segments/%s/", jobID),
		fmt.Sprintf("enhanced/%s/", jobID),
		fmt.Sprintf("transcripts/%s/", jobID),
		fmt.Sprintf("analysis/%s/", jobID),
		fmt.Sprintf("hls/%s/", jobID),
		fmt.Sprintf("results/%s/", jobID),
		fmt.Sprintf("tmp/%s/", jobID),
	}
}
