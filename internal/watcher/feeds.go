package watcher

import (
	"log/slog"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// DefaultFeedBuffer is the capacity of each feed channel.
const DefaultFeedBuffer = 16

// Feeds carries events from external producers to the Watcher.
type Feeds struct {
	external chan backend.Outcome
	focus    chan bool
	logger   *slog.Logger
}

// NewFeeds creates feeds with the given buffer size. A non-positive size
// uses DefaultFeedBuffer.
func NewFeeds(buffer int, logger *slog.Logger) *Feeds {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeds{
		external: make(chan backend.Outcome, buffer),
		focus:    make(chan bool, buffer),
		logger:   logger,
	}
}

// PublishExternal queues the outcome of a change made outside the
// controller. It reports false if the feed was full and the event dropped.
func (f *Feeds) PublishExternal(outcome backend.Outcome) bool {
	select {
	case f.external <- outcome:
		return true
	default:
		f.dropped(SourceTray)
		return false
	}
}

// PublishFocus queues a window focus change. It reports false if the feed
// was full and the event dropped.
func (f *Feeds) PublishFocus(focused bool) bool {
	select {
	case f.focus <- focused:
		return true
	default:
		f.dropped(SourceFocus)
		return false
	}
}

func (f *Feeds) dropped(source string) {
	metrics.EventsDroppedTotal.WithLabelValues(source).Inc()
	f.logger.Warn("event feed full, dropping event", slog.String("source", source))
}
