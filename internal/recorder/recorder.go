// Package recorder moves confirmed mints from the relay path into the
// record store. The relay RPUSHes a JSON job; Run BLPOPs and inserts it.
// Malformed or permanently invalid jobs land in the DLQ.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/metrics"
	"github.com/0gfoundation/0g-mint-relay/internal/records"
)

const (
	QueueKey = "mint:records:queue"
	DLQKey   = "mint:records:dlq"

	defaultMaxAttempts = 5
)

// Store is implemented by *records.Store.
type Store interface {
	Insert(ctx context.Context, m records.MintedNFT) (bool, error)
}

type job struct {
	Record   records.MintedNFT `json:"record"`
	Attempts int               `json:"attempts"`
}

// Queue is the producer side used by the relay service.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func (q *Queue) Enqueue(ctx context.Context, m records.MintedNFT) error {
	raw, err := json.Marshal(job{Record: m})
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, QueueKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue record: %w", err)
	}
	return nil
}

type Consumer struct {
	rdb          *redis.Client
	store        Store
	log          *zap.Logger
	PollTimeout  time.Duration
	RetryBackoff time.Duration
	MaxAttempts  int
}

func NewConsumer(rdb *redis.Client, store Store, log *zap.Logger) *Consumer {
	return &Consumer{
		rdb:          rdb,
		store:        store,
		log:          log,
		PollTimeout:  5 * time.Second,
		RetryBackoff: 5 * time.Second,
		MaxAttempts:  defaultMaxAttempts,
	}
}

// Run is the consumer loop: BLPOP → insert → retry or DLQ.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("recorder started", zap.String("queue", QueueKey))
	for {
		if ctx.Err() != nil {
			c.log.Info("recorder stopped")
			return
		}

		results, err := c.rdb.BLPop(ctx, c.PollTimeout, QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Error("recorder: BLPOP error", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		// results[0] = key, results[1] = value
		if retry := c.Handle(ctx, results[1]); retry {
			sleep(ctx, c.RetryBackoff)
		}
	}
}

// Handle processes one raw job. It reports whether the job was re-queued
// after a transient failure.
func (c *Consumer) Handle(ctx context.Context, raw string) bool {
	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		c.deadLetter(ctx, raw, "unmarshal", err)
		return false
	}

	inserted, err := c.store.Insert(ctx, j.Record)
	switch {
	case err == nil:
		if !inserted {
			metrics.RecorderJobs.WithLabelValues("duplicate").Inc()
			return false
		}
		metrics.RecorderJobs.WithLabelValues("stored").Inc()
		c.log.Info("record stored",
			zap.Int64("chain_id", j.Record.ChainID),
			zap.String("owner", j.Record.Owner),
			zap.String("token_id", j.Record.TokenID),
			zap.String("tx", j.Record.TxHash))
		return false
	case errors.Is(err, records.ErrInvalidRecord):
		c.deadLetter(ctx, raw, "invalid", err)
		return false
	}

	j.Attempts++
	if j.Attempts >= c.MaxAttempts {
		c.deadLetter(ctx, raw, "max attempts", err)
		return false
	}
	metrics.RecorderJobs.WithLabelValues("retried").Inc()
	c.log.Warn("recorder: insert failed, re-queued",
		zap.Int("attempts", j.Attempts),
		zap.String("tx", j.Record.TxHash),
		zap.Error(err))
	again, _ := json.Marshal(j)
	// The job is already off the queue; shutdown must not drop it.
	if perr := c.rdb.RPush(context.WithoutCancel(ctx), QueueKey, again).Err(); perr != nil {
		c.log.Error("recorder: re-queue failed", zap.String("raw", raw), zap.Error(perr))
	}
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, raw, reason string, cause error) {
	metrics.RecorderJobs.WithLabelValues("dead").Inc()
	if err := c.rdb.RPush(context.WithoutCancel(ctx), DLQKey, raw).Err(); err != nil {
		c.log.Error("recorder: DLQ push failed, job lost",
			zap.String("reason", reason),
			zap.String("raw", raw),
			zap.Error(err))
		return
	}
	c.log.Error("recorder: job moved to DLQ",
		zap.String("reason", reason),
		zap.String("raw", raw),
		zap.Error(cause))
}

// Redrive moves dead-lettered jobs that still decode back onto the queue
// with a fresh attempt budget. Run it once at startup so records lost to a
// store outage are retried. Undecodable entries stay in the DLQ.
func (c *Consumer) Redrive(ctx context.Context) (int, error) {
	raws, err := c.rdb.LRange(ctx, DLQKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read dlq: %w", err)
	}
	moved := 0
	for _, raw := range raws {
		var j job
		if json.Unmarshal([]byte(raw), &j) != nil || j.Record.Validate() != nil {
			continue
		}
		j.Attempts = 0
		again, _ := json.Marshal(j)
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, DLQKey, 1, raw)
		pipe.RPush(ctx, QueueKey, again)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("redrive: %w", err)
		}
		moved++
	}
	if moved > 0 {
		c.log.Info("recorder: redrove dead letters", zap.Int("count", moved))
	}
	return moved, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
