package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// Notifier delivers a user-facing push message. The real transport is an
// external collaborator; the default implementation only logs.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// LogNotifier logs instead of pushing.
type LogNotifier struct{}

// Notify writes the would-be push to the log.
func (LogNotifier) Notify(_ context.Context, userID, title, body string) error {
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"title":   title,
	}).Info("Push notification: " + body)
	return nil
}

// FailureHandler converges every failure path on TerminateJob.
type FailureHandler struct {
	state    state.Store
	store    storage.Store
	producer broker.Publisher
	notifier Notifier
	logger   *logrus.Entry
}

// NewFailureHandler wires the terminal-transition dependencies.
func NewFailureHandler(st state.Store, store storage.Store, producer broker.Publisher, notifier Notifier) *FailureHandler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &FailureHandler{
		state:    st,
		store:    store,
		producer: producer,
		notifier: notifier,
		logger:   logrus.WithField("component", "failure_handler"),
	}
}

// TerminateJob performs a terminal transition: terminal progress frame,
// termination event, push notification, and a full cleanup sweep across
// every job-owned prefix. CANCELLING is written first so in-flight
// handlers short-circuit before the final status lands.
func (h *FailureHandler) TerminateJob(ctx context.Context, jobID string, status state.Status, reason string) error {
	h.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"status": status,
		"reason": reason,
	}).Warn("Terminating job")

	if status == state.StatusCancelled {
		if err := h.state.UpdateProgress(ctx, jobID, state.StatusCancelling, 0, reason); err != nil {
			return err
		}
	}

	job, err := h.state.GetJob(ctx, jobID)
	if err != nil && !errors.Is(err, state.ErrJobNotFound) {
		return err
	}

	if err := h.state.UpdateProgress(ctx, jobID, status, 0, reason); err != nil {
		return err
	}

	switch status {
	case state.StatusFailed:
		err = h.producer.Publish(ctx, schema.ExchangeAudioEvents, schema.RouteJobFailed,
			schema.JobFailedEvent{JobID: jobID, Reason: reason})
	case state.StatusCancelled:
		err = h.producer.Publish(ctx, schema.ExchangeAudioEvents, schema.RouteJobCancelled,
			schema.JobCancelledEvent{JobID: jobID, Reason: reason})
	}
	if err != nil {
		// The terminal state is already durable; subscribers recover from
		// it even when the event publish fails.
		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to publish termination event")
	}

	if job.UserID != "" {
		title := "Job processing failed"
		if status == state.StatusCancelled {
			title = "Job processing cancelled"
		}
		if nerr := h.notifier.Notify(ctx, job.UserID, title, reason); nerr != nil {
			h.logger.WithError(nerr).Warn("Push notification failed")
		}
	}

	return cleanupPrefixes(ctx, h.store, storage.AllPrefixes(jobID))
}

// HandleDLQMessage treats any dead-lettered message as a terminal failure
// for its job.
func (h *FailureHandler) HandleDLQMessage(ctx context.Context, body []byte) error {
	var envelope struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode dlq message: %w", err)
	}
	if envelope.JobID == "" {
		h.logger.Warn("DLQ message without job_id, dropping")
		return nil
	}
	return h.TerminateJob(ctx, envelope.JobID, state.StatusFailed,
		"System Error: Processing failed and rolled back.")
}

// HandleCancelCommand cancels a job on user request.
func (h *FailureHandler) HandleCancelCommand(ctx context.Context, body []byte) error {
	var cmd schema.CancelCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.cancel: %w", err)
	}
	if cmd.JobID == "" {
		return errors.New("cmd.cancel without job_id")
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "Cancelled by user"
	}
	return h.TerminateJob(ctx, cmd.JobID, state.StatusCancelled, reason)
}

// cleanupPrefixes sweeps object prefixes in parallel. Prefixes are
// job-scoped, so eager deletion is safe even with workers in flight.
func cleanupPrefixes(ctx context.Context, store storage.Store, prefixes []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, prefix := range prefixes {
		prefix := prefix
		g.Go(func() error {
			return store.DeleteFolder(ctx, prefix)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("cleanup sweep: %w", err)
	}
	return nil
}
