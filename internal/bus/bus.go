package bus

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TopicScanStarted      = "scan.started"
	TopicScanFinished     = "scan.finished"
	TopicAgentRunFinished = "agent.run.finished"
	TopicAlertFired       = "alert.fired"
)

// Topics lists every topic the dashboard event stream forwards.
var Topics = []string{TopicScanStarted, TopicScanFinished, TopicAgentRunFinished, TopicAlertFired}

type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

type Handler func(ctx context.Context, e Event)

type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(topic string, h Handler) (unsubscribe func(), err error)
	Close() error
}
