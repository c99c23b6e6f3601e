package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Target        Target
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	DedupMax      int
}

// Target is a chat, optionally narrowed to a forum thread.
type Target struct {
	ChatID   int64
	ThreadID int
}

// Notification is one message. A zero Target means Config.Target.
type Notification struct {
	Target   Target
	Text     string
	Priority int // >=9 critical, >=7 warning, >=5 info
}

// Sender delivers one already-formatted message.
type Sender interface {
	Send(ctx context.Context, to Target, text string) error
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is the payload of the notifier.* bus events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
