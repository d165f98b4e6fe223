// Package orchestrator drives the per-job state machine. Every handler is
// idempotent under at-least-once delivery: transitions are guarded by
// check-and-set marks on the per-job step set, and a handler that
// observes its step already set returns successfully without
// republishing.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// Workflow subscribes to every worker completion event and fans commands
// out and in.
type Workflow struct {
	producer broker.Publisher
	state    state.Store
	store    storage.Store
	logger   *logrus.Entry
}

// NewWorkflow wires the orchestrator's dependencies.
func NewWorkflow(producer broker.Publisher, st state.Store, store storage.Store) *Workflow {
	return &Workflow{
		producer: producer,
		state:    st,
		store:    store,
		logger:   logrus.WithField("component", "orchestrator"),
	}
}

// isHalted is the first side-effect check of every handler: once a job
// enters CANCELLING or any terminal status, in-flight completions are
// ignored. FAILED and CANCELLED are absorbing, so a late worker event
// must not resurrect the job or publish a non-terminal frame after the
// terminal one.
func (w *Workflow) isHalted(ctx context.Context, jobID string) (bool, error) {
	status, err := w.state.GetStatus(ctx, jobID)
	if err != nil {
		return false, err
	}
	if status == state.StatusCancelling || status.IsTerminal() {
		w.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"status": status,
		}).Warn("Job halted, dropping event")
		return true, nil
	}
	return false, nil
}

// HandleFileUploaded enters a job into the pipeline.
func (w *Workflow) HandleFileUploaded(ctx context.Context, body []byte) error {
	var event schema.FileUploadedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode file.uploaded: %w", err)
	}
	jobID := event.JobID
	logger := w.logger.WithField("job_id", jobID)

	status, err := w.state.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if status != "" {
		logger.Info("Job already exists, resuming")
	} else {
		logger.WithField("user_id", event.UserID).Info("Starting job")
		if err := w.state.InitJob(ctx, jobID, event.UserID); err != nil {
			return err
		}
	}

	done, err := w.state.StepDone(ctx, jobID, state.StepPreprocess)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if err := w.state.UpdateProgress(ctx, jobID, state.StatusPreprocessing, 5, "Cleaning audio..."); err != nil {
		return err
	}
	return w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdPreprocess, schema.PreprocessCommand{
		JobID:     jobID,
		InputPath: event.StoragePath,
	})
}

// HandlePreprocessDone triggers segmentation and diarization in parallel.
func (w *Workflow) HandlePreprocessDone(ctx context.Context, body []byte) error {
	var event schema.PreprocessCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode preprocess.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	if err := w.state.MarkStep(ctx, event.JobID, state.StepPreprocess); err != nil {
		return err
	}

	done, err := w.state.StepDone(ctx, event.JobID, state.StepSegmentingTrigger)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if err := w.state.UpdateProgress(ctx, event.JobID, state.StatusSegmenting, 15, "Analyzing structure..."); err != nil {
		return err
	}
	if err := w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdSegment, schema.SegmentCommand{
		JobID:     event.JobID,
		InputPath: event.CleanAudioPath,
	}); err != nil {
		return err
	}
	if err := w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdDiarize, schema.DiarizeCommand{
		JobID:     event.JobID,
		InputPath: event.CleanAudioPath,
	}); err != nil {
		return err
	}
	return w.state.MarkStep(ctx, event.JobID, state.StepSegmentingTrigger)
}

// HandleSegmentDone records the fan-out width, kicks off transcoding, and
// publishes one enhance command per chunk.
func (w *Workflow) HandleSegmentDone(ctx context.Context, body []byte) error {
	var event schema.SegmentCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode segment.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	jobID := event.JobID
	total := len(event.Segments)
	if total == 0 {
		return fmt.Errorf("segment.done for job %s carries no segments", jobID)
	}

	// One segment.done drives the whole fan-out. A redelivery after
	// recognitions have been counted must not reset the done counter:
	// the per-chunk recognized marks would block re-counting and the
	// fan-in could never fire again.
	first, err := w.state.MarkStepOnce(ctx, jobID, state.StepSegmentDone)
	if err != nil {
		return err
	}
	if !first {
		w.logger.WithField("job_id", jobID).Debug("Duplicate segment.done, ignoring")
		return nil
	}
	if err := w.state.SetSegmentTotal(ctx, jobID, total); err != nil {
		return err
	}

	done, err := w.state.StepDone(ctx, jobID, state.StepTranscodeTrigger)
	if err != nil {
		return err
	}
	if !done {
		if err := w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdTranscode, schema.TranscodeCommand{
			JobID:     jobID,
			InputPath: event.AudioPath,
		}); err != nil {
			return err
		}
		if err := w.state.MarkStep(ctx, jobID, state.StepTranscodeTrigger); err != nil {
			return err
		}
	}

	for _, seg := range event.Segments {
		if err := w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdEnhance, schema.EnhanceCommand{
			JobID:   jobID,
			Index:   seg.Index,
			S3Path:  seg.S3Path,
			StartMS: seg.StartMS,
			EndMS:   seg.EndMS,
		}); err != nil {
			return err
		}
	}
	return w.state.UpdateProgress(ctx, jobID, state.StatusProcessing, 30,
		fmt.Sprintf("Processing %d chunks...", total))
}

// HandleDiarizationDone persists the speaker turns and checks the fan-in.
func (w *Workflow) HandleDiarizationDone(ctx context.Context, body []byte) error {
	var event schema.DiarizationCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode diarization.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	if err := w.store.WriteJSON(ctx, storage.DiarizationKey(event.JobID), event.SpeakerTurns); err != nil {
		return err
	}
	if err := w.state.MarkStep(ctx, event.JobID, state.StepDiarization); err != nil {
		return err
	}
	return w.checkFinish(ctx, event.JobID)
}

// HandleTranscodeDone records the HLS rendition and checks the fan-in.
func (w *Workflow) HandleTranscodeDone(ctx context.Context, body []byte) error {
	var event schema.TranscodeCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode transcode.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	if err := w.state.MarkStep(ctx, event.JobID, state.StepTranscode); err != nil {
		return err
	}
	return w.checkFinish(ctx, event.JobID)
}

// HandleEnhancementDone forwards the chunk to language detection.
func (w *Workflow) HandleEnhancementDone(ctx context.Context, body []byte) error {
	var event schema.EnhancementCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode enhancement.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"job_id": event.JobID,
		"index":  event.Index,
	}).Debug("Enhancement done, forwarding to language detection")
	return w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdLangDetect, schema.LanguageDetectCommand{
		JobID:     event.JobID,
		InputPath: event.S3Path,
		Index:     event.Index,
		StartMS:   event.StartMS,
		EndMS:     event.EndMS,
	})
}

// HandleLangDetectDone forwards the chunk to recognition with the
// detected language attached.
func (w *Workflow) HandleLangDetectDone(ctx context.Context, body []byte) error {
	var event schema.LanguageDetectionCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode lang_detect.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"job_id":   event.JobID,
		"index":    event.Index,
		"language": event.Language,
	}).Debug("Language detected, forwarding to recognition")
	return w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdRecognize, schema.RecognizeCommand{
		JobID:     event.JobID,
		InputPath: event.InputPath,
		Index:     event.Index,
		StartMS:   event.StartMS,
		EndMS:     event.EndMS,
		Language:  event.Language,
	})
}

// HandleRecognitionDone appends the chunk record, advances the counter,
// and checks the fan-in when the last chunk lands.
func (w *Workflow) HandleRecognitionDone(ctx context.Context, body []byte) error {
	var event schema.RecognitionCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode recognition.done: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	jobID := event.JobID

	total, err := w.state.SegmentTotal(ctx, jobID)
	if err != nil {
		return err
	}
	// The segment-done transition always records the total before any
	// recognize command is issued; a missing total means the event
	// arrived outside a valid run.
	if total <= 0 {
		return fmt.Errorf("recognition.done for job %s before segment total was set", jobID)
	}

	// Per-chunk guard: a redelivered recognition.done must not append a
	// second record or advance the counter twice.
	first, err := w.state.MarkStepOnce(ctx, jobID, fmt.Sprintf("recognized:%d", event.Index))
	if err != nil {
		return err
	}
	if !first {
		w.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"index":  event.Index,
		}).Debug("Duplicate recognition.done, ignoring")
		return nil
	}

	if err := w.state.AppendTranscript(ctx, jobID, schema.TranscriptRecord{
		Index:            event.Index,
		StartMS:          event.StartMS,
		EndMS:            event.EndMS,
		TranscriptS3Path: event.TranscriptS3Path,
	}); err != nil {
		return err
	}
	done, err := w.state.IncrSegmentsDone(ctx, jobID)
	if err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"done":   done,
		"total":  total,
	}).Info("Chunk recognized")

	progress := 30 + (done*40)/total
	if progress > 70 {
		progress = 70
	}
	if err := w.state.UpdateProgress(ctx, jobID, state.StatusProcessing, progress, ""); err != nil {
		return err
	}

	if done >= total {
		if err := w.state.MarkStep(ctx, jobID, state.StepRecognitionAll); err != nil {
			return err
		}
		return w.checkFinish(ctx, jobID)
	}
	return nil
}

// checkFinish is the fan-in guard: postprocess fires iff recognition,
// diarization, and transcode are all done and nobody triggered it before.
// The trigger mark is compare-and-set first so exactly one caller builds
// the manifest.
func (w *Workflow) checkFinish(ctx context.Context, jobID string) error {
	if halted, err := w.isHalted(ctx, jobID); err != nil || halted {
		return err
	}
	for _, step := range []string{state.StepRecognitionAll, state.StepDiarization, state.StepTranscode} {
		done, err := w.state.StepDone(ctx, jobID, step)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}

	won, err := w.state.MarkStepOnce(ctx, jobID, state.StepPostprocessTriggered)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	w.logger.WithField("job_id", jobID).Info("All inputs ready, building manifest")

	records, err := w.state.Transcripts(ctx, jobID)
	if err != nil {
		return err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartMS < records[j].StartMS
	})
	if err := w.store.WriteJSON(ctx, storage.ManifestKey(jobID), records); err != nil {
		return err
	}

	if err := w.producer.Publish(ctx, schema.ExchangeAudioOps, schema.RouteCmdPostProcess, schema.PostProcessCommand{
		JobID: jobID,
	}); err != nil {
		return err
	}
	return w.state.UpdateProgress(ctx, jobID, state.StatusPostProcessing, 80, "Finalizing...")
}

// HandleJobFinalized completes the job and drops the enumerable
// intermediate prefixes; results/ and hls/ are retained.
func (w *Workflow) HandleJobFinalized(ctx context.Context, body []byte) error {
	var event schema.JobCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode job.finalized: %w", err)
	}
	if halted, err := w.isHalted(ctx, event.JobID); err != nil || halted {
		return err
	}
	jobID := event.JobID
	w.logger.WithField("job_id", jobID).Info("Job completed, cleaning intermediates")

	if err := w.state.UpdateProgress(ctx, jobID, state.StatusCompleted, 100,
		"Audio has been recognized successfully"); err != nil {
		return err
	}
	return cleanupPrefixes(ctx, w.store, storage.IntermediatePrefixes(jobID))
}
