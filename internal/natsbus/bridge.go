package natsbus

import (
	"log/slog"

	"github.com/skeinhq/skein/internal/bus"
)

// Bridge forwards every engine bus event to NATS. Each event is
// published twice: on its name topic for type subscribers and on its
// context topic for run followers. Returns the unsubscribe function.
// Publish failures are logged so a dropped connection cannot block the
// emitting goroutine.
func Bridge(b *bus.Bus, c *Client) func() {
	return b.SubscribeAll(func(ev bus.Event) {
		if err := c.PublishJSON(TopicEvent(ev.Name), ev); err != nil {
			slog.Error("nats publish", "topic", TopicEvent(ev.Name), "error", err)
			return
		}
		if ev.ContextID == "" {
			return
		}
		if err := c.PublishJSON(TopicContext(ev.ContextID), ev); err != nil {
			slog.Error("nats publish", "topic", TopicContext(ev.ContextID), "error", err)
		}
	})
}
