package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/livenode/internal/events"
)

// StatusLED is the logical name of the LED that mirrors the pipeline.
const StatusLED = "status"

// Indicator mirrors the pipeline lifecycle on the status LED:
// solid while streaming, heartbeat while previewing or changing state,
// blink after a failure and off when idle.
type Indicator struct {
	controller  Controller
	bus         *events.Bus
	logger      *slog.Logger
	unsubscribe func()

	mu   sync.Mutex
	last Pattern
}

func NewIndicator(controller Controller, bus *events.Bus, logger *slog.Logger) *Indicator {
	return &Indicator{controller: controller, bus: bus, logger: logger}
}

// Start switches the LED off and follows pipeline state changes.
func (i *Indicator) Start() {
	i.apply(PatternOff)
	i.unsubscribe = i.bus.Subscribe(func(e events.PipelineStateChangedEvent) {
		i.apply(patternFor(e.State, e.Streaming))
	})
}

// Stop unsubscribes and leaves the LED off.
func (i *Indicator) Stop() {
	if i.unsubscribe != nil {
		i.unsubscribe()
		i.unsubscribe = nil
	}
	i.apply(PatternOff)
}

func (i *Indicator) apply(p Pattern) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p == i.last {
		return
	}
	if err := i.controller.Set(StatusLED, p); err != nil {
		i.logger.Warn("Failed to set status LED", "pattern", p, "error", err)
		return
	}
	i.last = p
	i.logger.Debug("Status LED updated", "pattern", p)
}

func patternFor(state string, streaming bool) Pattern {
	switch state {
	case "running":
		if streaming {
			return PatternSolid
		}
		return PatternHeartbeat
	case "starting", "stopping":
		return PatternHeartbeat
	case "error":
		return PatternBlink
	default:
		return PatternOff
	}
}
