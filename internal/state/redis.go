package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/schema"
)

const (
	defaultJobTTL   = time.Hour
	defaultTokenTTL = 30 * time.Minute
)

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

// NewRedisStore wraps an existing client. Jobs expire one hour after the
// last full write.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		ttl:    defaultJobTTL,
		logger: logrus.WithField("component", "state"),
	}
}

func jobKey(jobID string) string        { return "job:" + jobID }
func stepsKey(jobID string) string      { return "job:" + jobID + ":steps" }
func counterKey(jobID string) string    { return "job:" + jobID + ":cnt" }
func transcriptKey(jobID string) string { return "job:" + jobID + ":transcripts" }
func progressChannel(jobID string) string {
	return "job_progress:" + jobID
}
func googleTokenKey(userID string) string { return "google_token:" + userID }

// InitJob creates the job hash with a TTL.
func (s *RedisStore) InitJob(ctx context.Context, jobID, userID string) error {
	key := jobKey(jobID)
	err := s.rdb.HSet(ctx, key, map[string]any{
		"user_id":  userID,
		"status":   string(StatusQueued),
		"progress": "0",
		"message":  "Starting...",
	}).Err()
	if err != nil {
		return fmt.Errorf("init job %s: %w", jobID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("expire job %s: %w", jobID, err)
	}
	return nil
}

// GetJob returns the full job record.
func (s *RedisStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return Job{}, ErrJobNotFound
	}
	progress, _ := strconv.Atoi(fields["progress"])
	return Job{
		JobID:    jobID,
		UserID:   fields["user_id"],
		Status:   Status(fields["status"]),
		Progress: progress,
		Message:  fields["message"],
	}, nil
}

// GetStatus returns the job status, "" when unknown.
func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (Status, error) {
	status, err := s.rdb.HGet(ctx, jobKey(jobID), "status").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get status %s: %w", jobID, err)
	}
	return Status(status), nil
}

// UpdateProgress writes the hash and publishes the frame. Correctness
// never depends on pub/sub delivery; a subscriber that misses a frame
// recovers by reading the hash.
func (s *RedisStore) UpdateProgress(ctx context.Context, jobID string, status Status, progress int, message string) error {
	err := s.rdb.HSet(ctx, jobKey(jobID), map[string]any{
		"status":   string(status),
		"progress": strconv.Itoa(progress),
		"message":  message,
	}).Err()
	if err != nil {
		return fmt.Errorf("update progress %s: %w", jobID, err)
	}

	frame := schema.ProgressFrame{
		JobID:    jobID,
		Status:   string(status),
		Progress: progress,
		Message:  message,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := s.rdb.Publish(ctx, progressChannel(jobID), payload).Err(); err != nil {
		return fmt.Errorf("publish progress %s: %w", jobID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"status":   status,
		"progress": progress,
	}).Info("Job progress updated")
	return nil
}

// MarkStep records a step unconditionally.
func (s *RedisStore) MarkStep(ctx context.Context, jobID, step string) error {
	if err := s.rdb.HSet(ctx, stepsKey(jobID), step, "1").Err(); err != nil {
		return fmt.Errorf("mark step %s/%s: %w", jobID, step, err)
	}
	return nil
}

// MarkStepOnce records a step and reports whether this caller won the
// check-and-set.
func (s *RedisStore) MarkStepOnce(ctx context.Context, jobID, step string) (bool, error) {
	won, err := s.rdb.HSetNX(ctx, stepsKey(jobID), step, "1").Result()
	if err != nil {
		return false, fmt.Errorf("mark step once %s/%s: %w", jobID, step, err)
	}
	return won, nil
}

// StepDone reports whether a step has been recorded.
func (s *RedisStore) StepDone(ctx context.Context, jobID, step string) (bool, error) {
	v, err := s.rdb.HGet(ctx, stepsKey(jobID), step).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("step done %s/%s: %w", jobID, step, err)
	}
	return v == "1", nil
}

// SetSegmentTotal stores the chunk count and resets the done counter.
func (s *RedisStore) SetSegmentTotal(ctx context.Context, jobID string, total int) error {
	err := s.rdb.HSet(ctx, counterKey(jobID), map[string]any{
		"total": strconv.Itoa(total),
		"done":  "0",
	}).Err()
	if err != nil {
		return fmt.Errorf("set total %s: %w", jobID, err)
	}
	return nil
}

// IncrSegmentsDone atomically increments the done counter.
func (s *RedisStore) IncrSegmentsDone(ctx context.Context, jobID string) (int, error) {
	done, err := s.rdb.HIncrBy(ctx, counterKey(jobID), "done", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incr done %s: %w", jobID, err)
	}
	return int(done), nil
}

// SegmentTotal returns the stored total, 0 when unset.
func (s *RedisStore) SegmentTotal(ctx context.Context, jobID string) (int, error) {
	v, err := s.rdb.HGet(ctx, counterKey(jobID), "total").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get total %s: %w", jobID, err)
	}
	total, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse total %s: %w", jobID, err)
	}
	return total, nil
}

// AppendTranscript appends one recognition record to the per-job list.
func (s *RedisStore) AppendTranscript(ctx context.Context, jobID string, rec schema.TranscriptRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transcript record: %w", err)
	}
	if err := s.rdb.RPush(ctx, transcriptKey(jobID), payload).Err(); err != nil {
		return fmt.Errorf("append transcript %s: %w", jobID, err)
	}
	return nil
}

// Transcripts returns the full per-job recognition list.
func (s *RedisStore) Transcripts(ctx context.Context, jobID string) ([]schema.TranscriptRecord, error) {
	raw, err := s.rdb.LRange(ctx, transcriptKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range transcripts %s: %w", jobID, err)
	}
	records := make([]schema.TranscriptRecord, 0, len(raw))
	for _, item := range raw {
		var rec schema.TranscriptRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode transcript record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SubscribeProgress delivers frames from the per-job pub/sub channel.
func (s *RedisStore) SubscribeProgress(ctx context.Context, jobID string) (<-chan schema.ProgressFrame, func(), error) {
	pubsub := s.rdb.Subscribe(ctx, progressChannel(jobID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe progress %s: %w", jobID, err)
	}

	frames := make(chan schema.ProgressFrame)
	go func() {
		defer close(frames)
		for msg := range pubsub.Channel() {
			var frame schema.ProgressFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				s.logger.WithError(err).Warn("Dropping malformed progress frame")
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			s.logger.WithError(err).Debug("Progress subscription close failed")
		}
	}
	return frames, cancel, nil
}

// SetGoogleToken stores an opaque editor credential with a TTL.
func (s *RedisStore) SetGoogleToken(ctx context.Context, userID, token string) error {
	if err := s.rdb.Set(ctx, googleTokenKey(userID), token, defaultTokenTTL).Err(); err != nil {
		return fmt.Errorf("set google token %s: %w", userID, err)
	}
	return nil
}

// GetGoogleToken returns the stored credential, "" when absent.
func (s *RedisStore) GetGoogleToken(ctx context.Context, userID string) (string, error) {
	token, err := s.rdb.Get(ctx, googleTokenKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get google token %s: %w", userID, err)
	}
	return token, nil
}
