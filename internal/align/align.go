// Package align maps recognized words onto diarized speaker turns. The
// algorithm is pure and deterministic: identical inputs produce identical
// output, including tie-breaks.
package align

import (
	"sort"
	"strings"
)

// UnknownSpeaker labels words that cannot be attributed to any turn.
const UnknownSpeaker = "UNKNOWN"

// boundaryWindow is how far (seconds) a word may sit from a turn boundary
// and still inherit that turn's speaker when no turn overlaps it.
const boundaryWindow = 2.0

// gapMergeWindow is the maximum silence (seconds) bridged when joining
// consecutive same-speaker segments.
const gapMergeWindow = 2.0

// Word is one recognized token with global-second timing.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Turn is one diarization interval attributed to a speaker.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Segment is a run of consecutive same-speaker words.
type Segment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// overlap returns the length of the intersection of two intervals, 0 when
// they do not intersect.
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

// boundaryDistance returns how far the word interval sits from the turn,
// 0 when they touch or overlap.
func boundaryDistance(w Word, t Turn) float64 {
	if t.End < w.Start {
		return w.Start - t.End
	}
	if t.Start > w.End {
		return t.Start - w.End
	}
	return 0
}

// assignSpeaker picks the turn with maximal temporal overlap; ties go to
// the first-encountered turn in sorted order. With zero overlap
// everywhere, the nearest turn within the boundary window wins. Returns
// "" when no turn qualifies.
func assignSpeaker(w Word, turns []Turn) string {
	best := ""
	maxOverlap := 0.0
	for _, t := range turns {
		if ov := overlap(w.Start, w.End, t.Start, t.End); ov > maxOverlap {
			maxOverlap = ov
			best = t.Speaker
		}
	}
	if best != "" {
		return best
	}

	nearest := ""
	nearestDist := boundaryWindow
	for _, t := range turns {
		if d := boundaryDistance(w, t); d <= nearestDist {
			// Strict < keeps the first-encountered turn on equal distance.
			if nearest == "" || d < nearestDist {
				nearestDist = d
				nearest = t.Speaker
			}
		}
	}
	return nearest
}

// Align attributes each word to a speaker and collapses the tagged list
// into runs. Words no turn accounts for inherit the previous word's
// speaker; a leading orphan is labeled UNKNOWN.
func Align(words []Word, turns []Turn) []Segment {
	if len(words) == 0 {
		return nil
	}

	sortedWords := append([]Word(nil), words...)
	sort.SliceStable(sortedWords, func(i, j int) bool {
		return sortedWords[i].Start < sortedWords[j].Start
	})
	sortedTurns := append([]Turn(nil), turns...)
	sort.SliceStable(sortedTurns, func(i, j int) bool {
		return sortedTurns[i].Start < sortedTurns[j].Start
	})

	speakers := make([]string, len(sortedWords))
	prev := ""
	for i, w := range sortedWords {
		speaker := assignSpeaker(w, sortedTurns)
		if speaker == "" {
			speaker = prev
		}
		if speaker == "" {
			speaker = UnknownSpeaker
		}
		speakers[i] = speaker
		prev = speaker
	}

	// Runs split on silences longer than the merge window, so a speaker
	// who pauses and resumes elsewhere in the audio yields two segments.
	var segments []Segment
	for i, w := range sortedWords {
		if i > 0 && speakers[i] == segments[len(segments)-1].Speaker &&
			w.Start-segments[len(segments)-1].End <= gapMergeWindow {
			seg := &segments[len(segments)-1]
			seg.End = w.End
			seg.Text += " " + w.Word
			continue
		}
		segments = append(segments, Segment{
			Speaker: speakers[i],
			Start:   w.Start,
			End:     w.End,
			Text:    w.Word,
		})
	}

	for i := range segments {
		segments[i].Text = strings.TrimSpace(segments[i].Text)
	}
	return mergeGaps(segments)
}

// mergeGaps joins consecutive same-speaker segments separated by at most
// gapMergeWindow seconds of silence.
func mergeGaps(segments []Segment) []Segment {
	if len(segments) < 2 {
		return segments
	}
	merged := segments[:1]
	for _, seg := range segments[1:] {
		last := &merged[len(merged)-1]
		if seg.Speaker == last.Speaker && seg.Start-last.End <= gapMergeWindow {
			last.End = seg.End
			last.Text += " " + seg.Text
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}
