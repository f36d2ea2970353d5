package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
)

// Agent translates monitoring-agent reports. The agent sends "log" and
// "error" events; anything else becomes an Internal diagnostic.
type Agent struct {
	bus    *bus.Bus
	logger *slog.Logger
}

func NewAgent(b *bus.Bus, logger *slog.Logger) *Agent {
	a := &Agent{bus: b, logger: logger}
	bus.Subscribe(b, a.handle)
	return a
}

const agentSource = "agent"

func (a *Agent) handle(ctx context.Context, raw *event.AgentRawHook) error {
	switch raw.Event {
	case "log":
		var d struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return fmt.Errorf("parse agent log payload: %w", err)
		}
		a.bus.Publish(ctx, agentSource, &event.AgentLog{Message: d.Message, Addr: raw.Addr})
	case "error":
		var d struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return fmt.Errorf("parse agent error payload: %w", err)
		}
		a.bus.Publish(ctx, agentSource, &event.AgentError{Message: d.Message, Error: d.Error, Addr: raw.Addr})
	default:
		message := "Received unexpected agent event: " + raw.Event
		a.logger.Warn(message, "addr", raw.Addr)
		a.bus.Publish(ctx, agentSource, &event.Internal{Message: message})
	}
	return nil
}
