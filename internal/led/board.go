package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boards maps a device-tree model substring to the status LED of the board.
var boards = []struct {
	model string
	leds  map[string]string
}{
	{"NanoPC-T6", map[string]string{StatusLED: "sys_led"}},
	{"Orange Pi", map[string]string{StatusLED: "green_led"}},
	{"Raspberry Pi", map[string]string{StatusLED: "ACT"}},
}

// Detect returns a controller for the running board, or a no-op controller
// when the board is unknown.
func Detect(logger *slog.Logger) Controller {
	return forModel(readModel(deviceTreeModelPath), "", logger)
}

func forModel(model, root string, logger *slog.Logger) Controller {
	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Using sysfs status LED", "board_model", model)
			return NewSysfs(root, b.leds)
		}
	}
	logger.Debug("No status LED for board", "board_model", model)
	return newNoop(logger)
}

func readModel(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	// Device-tree strings are NUL terminated.
	return strings.TrimRight(string(data), "\x00")
}
