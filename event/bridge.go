package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the NATS subject prefix for forwarded events.
const DefaultSubjectPrefix = "semflow.event"

// Bridge forwards bus events to NATS so out-of-process consumers can follow
// executions. Subjects are <prefix>.<executionId>.<kind>; delivery is
// fire-and-forget core publish.
type Bridge struct {
	nc     *nats.Conn
	bus    *Bus
	prefix string
	logger *slog.Logger

	sub *Subscription
}

// NewBridge creates a bridge from the bus onto the given connection. An
// empty prefix selects DefaultSubjectPrefix.
func NewBridge(nc *nats.Conn, bus *Bus, prefix string, logger *slog.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{nc: nc, bus: bus, prefix: prefix, logger: logger}
}

// Start subscribes to the bus and forwards until the context is cancelled
// or Stop is called.
func (b *Bridge) Start(ctx context.Context) {
	b.sub = b.bus.Subscribe(Filter{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.bus.Unsubscribe(b.sub)
				return
			case ev, ok := <-b.sub.Events():
				if !ok {
					return
				}
				b.forward(ev)
			}
		}
	}()

	b.logger.Debug("event bridge started", "prefix", b.prefix)
}

// Stop detaches the bridge from the bus.
func (b *Bridge) Stop() {
	b.bus.Unsubscribe(b.sub)
}

func (b *Bridge) forward(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("marshal event for bridge", "kind", ev.Kind, "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.prefix, ev.ExecutionID, ev.Kind)
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("publish event to NATS",
			"subject", subject,
			"error", err)
	}
}
