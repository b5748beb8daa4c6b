package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	mirrorKeyPrefix   = "humboldt:events:"
	mirrorQueueSize   = 1024
	mirrorWriteWait   = 2 * time.Second
	defaultMirrorTTL  = 24 * time.Hour
	defaultStreamTrim = 4096
)

// RedisMirror tees published events into a Redis Stream per workflow so
// replay outlives the in-memory ring and process restarts. Appends go
// through a single writer goroutine, which keeps stream order identical to
// publish order. The mirror is best-effort: Redis trouble drops events from
// the mirror, never from live subscribers.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	maxLen int64
	queue  chan Event
	done   chan struct{}
}

// NewRedisMirror starts the mirror's writer loop.
func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	rm := &RedisMirror{
		client: client,
		logger: logger,
		ttl:    defaultMirrorTTL,
		maxLen: defaultStreamTrim,
		queue:  make(chan Event, mirrorQueueSize),
		done:   make(chan struct{}),
	}
	go rm.writeLoop()
	return rm
}

// Append enqueues an event for mirroring. Non-blocking: a full queue drops
// the event and logs once per drop.
func (rm *RedisMirror) Append(evt Event) {
	select {
	case rm.queue <- evt:
	default:
		rm.logger.Debug("Event mirror queue full, dropping event",
			zap.String("workflow_id", evt.WorkflowID),
			zap.Uint64("seq", evt.Seq),
		)
	}
}

func (rm *RedisMirror) writeLoop() {
	for {
		select {
		case <-rm.done:
			return
		case evt := <-rm.queue:
			rm.write(evt)
		}
	}
}

func (rm *RedisMirror) write(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteWait)
	defer cancel()

	key := mirrorKeyPrefix + evt.WorkflowID
	pipe := rm.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: rm.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": string(evt.Marshal())},
	})
	pipe.Expire(ctx, key, rm.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		rm.logger.Debug("Event mirror write failed",
			zap.String("workflow_id", evt.WorkflowID),
			zap.Uint64("seq", evt.Seq),
			zap.Error(err),
		)
	}
}

// ReplaySince reads back mirrored events with Seq > since, in stream order.
func (rm *RedisMirror) ReplaySince(workflowID string, since uint64) []Event {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteWait)
	defer cancel()

	msgs, err := rm.client.XRange(ctx, mirrorKeyPrefix+workflowID, "-", "+").Result()
	if err != nil {
		rm.logger.Debug("Event mirror replay failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return nil
	}

	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out
}

// Flush blocks until the writer has drained everything enqueued before the
// call, or the timeout passes. Tests use it; production shutdown can too.
func (rm *RedisMirror) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(rm.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops the writer loop. Events still queued are abandoned.
func (rm *RedisMirror) Close() {
	close(rm.done)
}
