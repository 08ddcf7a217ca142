package led

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const sysfsLEDPath = "/sys/class/leds"

// Sysfs drives LEDs through the kernel LED class: a trigger file selects
// the pattern and a brightness file switches the LED on or off.
type Sysfs struct {
	root string
	leds map[string]string // role -> sysfs directory name
}

// NewSysfs creates a controller rooted at root, /sys/class/leds when empty.
func NewSysfs(root string, leds map[string]string) *Sysfs {
	if root == "" {
		root = sysfsLEDPath
	}
	return &Sysfs{root: root, leds: leds}
}

func (s *Sysfs) Set(name string, pattern Pattern) error {
	dir, ok := s.leds[name]
	if !ok {
		return fmt.Errorf("LED %q not supported on this board", name)
	}
	ledPath := filepath.Join(s.root, dir)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", name, ledPath, err)
	}

	trigger, brightness := "none", "1"
	switch pattern {
	case PatternOff:
		brightness = "0"
	case PatternSolid:
	case PatternHeartbeat:
		trigger = "heartbeat"
	case PatternBlink:
		trigger = "timer"
	default:
		return fmt.Errorf("unknown LED pattern %q", pattern)
	}

	if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("failed to set LED trigger: %w", err)
	}
	// Triggers own the brightness; only a manual LED is written.
	if trigger != "none" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *Sysfs) Names() []string {
	names := make([]string, 0, len(s.leds))
	for name := range s.leds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
