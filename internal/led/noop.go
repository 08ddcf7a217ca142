package led

import "log/slog"

// noop is used on boards without a known status LED.
type noop struct {
	logger *slog.Logger
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(name string, pattern Pattern) error {
	if n.logger != nil {
		n.logger.Debug("LED control not available", "led", name, "pattern", pattern)
	}
	return nil
}

func (n *noop) Names() []string {
	return []string{}
}
