package led

// Pattern is a logical LED pattern, mapped to a kernel trigger by the
// controller.
type Pattern string

const (
	PatternOff       Pattern = "off"
	PatternSolid     Pattern = "solid"
	PatternHeartbeat Pattern = "heartbeat"
	PatternBlink     Pattern = "blink"
)

// Controller drives the LEDs of one board. Names are logical roles
// ("status"), not sysfs names.
type Controller interface {
	Set(name string, pattern Pattern) error
	Names() []string
}
