package natsbus

import "fmt"

// Topic patterns for NATS pub/sub fan-out.

// TopicEvent maps a bus event name to its NATS topic.
func TopicEvent(name string) string {
	return fmt.Sprintf("events.%s", name)
}

// TopicContext carries every event of one execution context.
func TopicContext(contextID string) string {
	return fmt.Sprintf("contexts.%s", contextID)
}

const (
	TopicEventsAll   = "events.>"
	TopicContextsAll = "contexts.>"
)
