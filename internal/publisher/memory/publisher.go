// Package memory keeps drained-job notifications in process when Pub/Sub is
// not configured. Every notice is logged and the most recent ones are kept.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-screenshotter/internal/jobs"
)

const defaultCapacity = 32

// Notice is one published payload.
type Notice struct {
	ID          string
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// Publisher logs payloads and retains the last Capacity of them.
type Publisher struct {
	mu       sync.RWMutex
	notices  []Notice
	capacity int
	seq      uint64
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a Publisher retaining at most capacity notices; capacity <= 0
// uses a default.
func New(capacity int, logger *zap.Logger) *Publisher {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{capacity: capacity, logger: logger, now: time.Now}
}

// Publish logs payload and records it, evicting the oldest notice when full.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	p.mu.Lock()
	p.seq++
	n := Notice{
		ID:          fmt.Sprintf("memory-%d", p.seq),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: p.now().UTC(),
	}
	if len(p.notices) == p.capacity {
		copy(p.notices, p.notices[1:])
		p.notices = p.notices[:len(p.notices)-1]
	}
	p.notices = append(p.notices, n)
	p.mu.Unlock()

	fields := []zap.Field{zap.String("topic", topic), zap.String("message_id", n.ID)}
	if notice, ok := payload.(jobs.DrainedNotice); ok {
		fields = append(fields,
			zap.String("job_id", notice.JobID),
			zap.Int("total", notice.Progress.Total),
			zap.Int("completed", notice.Progress.Completed),
			zap.Int("failed", notice.Progress.Failed),
		)
	}
	p.logger.Info("job notice published", fields...)
	return n.ID, nil
}

// Recent returns the retained notices, oldest first.
func (p *Publisher) Recent() []Notice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notice, len(p.notices))
	copy(out, p.notices)
	return out
}
