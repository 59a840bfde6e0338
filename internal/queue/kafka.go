package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"task-manager/internal/models"
	"task-manager/pkg/logger"
)

// ConsumerGroup is the Kafka group shared by purge workers.
const ConsumerGroup = "task-purge-workers"

// EnsureTopic creates the purge topic with the given partitions (idempotent).
// A failure is logged and tolerated: the topic may already exist or be auto-created.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int) {
	if len(brokers) == 0 {
		return
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		logger.Warn(ctx, "Kafka dial for topic creation failed", "error", err)
		return
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		logger.Warn(ctx, "Kafka controller lookup failed", "error", err)
		return
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		logger.Warn(ctx, "Kafka controller dial failed", "error", err)
		return
	}
	defer ctrlConn.Close()
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		logger.Debug(ctx, "Kafka create topic failed (topic may already exist)", "error", err)
		return
	}
	logger.Info(ctx, "Kafka topic ensured", "topic", topic, "partitions", partitions)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDelayQueue carries purge jobs on a topic. Each message holds its run
// time; the consumer waits for it before handling, then commits. Retries
// happen in place so the partition offset only advances past settled jobs.
type KafkaDelayQueue struct {
	writer messageWriter
	reader messageReader
	retry  RetryPolicy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewKafkaDelayQueue builds the producer and group reader for topic.
func NewKafkaDelayQueue(brokers []string, topic string, retry RetryPolicy) *KafkaDelayQueue {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newKafkaDelayQueue(w, r, retry, time.Now)
}

func newKafkaDelayQueue(w messageWriter, r messageReader, retry RetryPolicy, now func() time.Time) *KafkaDelayQueue {
	return &KafkaDelayQueue{writer: w, reader: r, retry: retry.normalized(), now: now, sleep: sleepCtx}
}

// SchedulePurge publishes a job keyed by task id so jobs for one task stay ordered.
func (q *KafkaDelayQueue) SchedulePurge(ctx context.Context, taskID string, delay time.Duration) error {
	job := newJob(taskID, q.now(), delay)
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(taskID), Value: payload}); err != nil {
		return fmt.Errorf("schedule purge %s: %w", taskID, err)
	}
	logger.Info(ctx, "Purge scheduled", "task_id", taskID, "job_id", job.ID, "run_at", job.RunAt)
	return nil
}

// Run consumes until ctx is cancelled. One consumer per process; replicas share
// partitions through the consumer group.
func (q *KafkaDelayQueue) Run(ctx context.Context, h Handler) error {
	logger.Info(ctx, "Purge consumer started", "transport", "kafka")
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "Purge fetch failed", "error", err)
			if err := q.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}
		if err := q.process(ctx, msg, h); err != nil {
			// only cancellation stops processing; the message is redelivered
			return nil
		}
		if err := q.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "Purge commit failed", "error", err)
		}
	}
}

// process settles one message. It returns an error only when ctx ends.
func (q *KafkaDelayQueue) process(ctx context.Context, msg kafka.Message, h Handler) error {
	var job models.PurgeJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		logger.StepLogWithContext(ctx, "error", "Dropping undecodable purge job", string(msg.Value))
		return nil
	}
	jobCtx := logger.With(ctx, "job_id", job.ID, "task_id", job.TaskID)
	if wait := job.RunAt.Sub(q.now()); wait > 0 {
		if err := q.sleep(ctx, wait); err != nil {
			return err
		}
	}
	for {
		job.Attempts++
		herr := h.Handle(jobCtx, job)
		if herr == nil {
			return nil
		}
		if job.Attempts >= q.retry.MaxAttempts {
			h.Failed(jobCtx, job, herr)
			return nil
		}
		logger.Warn(jobCtx, "Purge attempt failed, retrying", "attempt", job.Attempts, "error", herr)
		if err := q.sleep(ctx, q.retry.delay(job.Attempts)); err != nil {
			return err
		}
	}
}

// Close flushes the writer and leaves the group.
func (q *KafkaDelayQueue) Close() error {
	return errors.Join(q.writer.Close(), q.reader.Close())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
