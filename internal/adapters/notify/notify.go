// Package notify is the notification collaborator. Publishing is
// fire-and-forget: no delivery acknowledgement reaches the caller.
package notify

import (
	"context"
	"sync"

	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// Detail types of published events.
const (
	PointsAwarded    = "points.awarded"
	MilestoneReached = "milestone.reached"
	WinnerAnnounced  = "winner.announced"
	DuelAccepted     = "duel.accepted"
	DuelDeclined     = "duel.declined"
)

// Event is the payload of a notification.
type Event struct {
	GameID     string   `json:"gameId"`
	ClientID   string   `json:"clientId"`
	Recipients []string `json:"recipients,omitempty"`
	EntityID   string   `json:"entityId,omitempty"`
	Score      float64  `json:"score,omitempty"`
	KPIName    string   `json:"kpiName,omitempty"`
}

// Publisher emits notifications.
type Publisher interface {
	Publish(ctx context.Context, detailType string, e Event)
}

// LogPublisher writes each notification as a structured log record.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a publisher logging through l, or the global
// logger when l is nil.
func NewLogPublisher(l logger.Logger) *LogPublisher {
	if l == nil {
		l = logger.Named("notify")
	}
	return &LogPublisher{logger: l}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, detailType string, e Event) {
	metrics.RecordNotification(detailType)
	p.logger.Info(ctx, "notification",
		logger.String("detailType", detailType),
		logger.String("gameId", e.GameID),
		logger.String("clientId", e.ClientID),
		logger.Int("recipients", len(e.Recipients)),
		logger.String("entityId", e.EntityID),
	)
}

// Published is one captured notification.
type Published struct {
	DetailType string
	Event      Event
}

// Recorder keeps published notifications in memory, optionally forwarding
// them to another publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Published
	next   Publisher
}

// NewRecorder creates a recorder forwarding to next, which may be nil.
func NewRecorder(next Publisher) *Recorder {
	return &Recorder{next: next}
}

// Publish records the event.
func (r *Recorder) Publish(ctx context.Context, detailType string, e Event) {
	r.mu.Lock()
	r.events = append(r.events, Published{DetailType: detailType, Event: e})
	r.mu.Unlock()
	if r.next != nil {
		r.next.Publish(ctx, detailType, e)
	}
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}

// Types returns the recorded detail types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, p := range r.events {
		out[i] = p.DetailType
	}
	return out
}
