// Package transmit carries encoded access units off the device.
//
// The drain loop calls a Sink from a single goroutine. OnAccessUnit must
// not retain the payload past its return; the unit is released right after.
package transmit

import (
	"errors"

	"github.com/smazurov/livenode/internal/media"
)

// ErrClosed is returned by sinks after Close.
var ErrClosed = errors.New("sink closed")

// Sink consumes the encoded stream.
type Sink interface {
	// OnFormat announces the output format, including parameter sets once
	// the codec has produced them.
	OnFormat(f media.Format)
	OnAccessUnit(u media.AccessUnit) error
	Close() error
}

// KeyframeRequester asks the encoder for a random access point.
type KeyframeRequester func()

// Discard is a sink that drops everything.
type Discard struct{}

func (Discard) OnFormat(media.Format)               {}
func (Discard) OnAccessUnit(media.AccessUnit) error { return nil }
func (Discard) Close() error                        { return nil }
