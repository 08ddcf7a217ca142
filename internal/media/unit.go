package media

import "strings"

// UnitFlags classifies an access unit.
type UnitFlags uint8

// Access unit flags.
const (
	FlagConfig UnitFlags = 1 << iota
	FlagKeyframe
	FlagDelta
)

// Has reports whether all bits of f2 are set.
func (f UnitFlags) Has(f2 UnitFlags) bool { return f&f2 == f2 }

func (f UnitFlags) String() string {
	var parts []string
	if f.Has(FlagConfig) {
		parts = append(parts, "CONFIG")
	}
	if f.Has(FlagKeyframe) {
		parts = append(parts, "KEYFRAME")
	}
	if f.Has(FlagDelta) {
		parts = append(parts, "DELTA")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// AccessUnit is one unit of encoder output.
//
// The payload is owned by the codec until Release is called. Consumers that
// need the bytes after Release must copy them.
type AccessUnit struct {
	Payload []byte
	// PTS is the presentation timestamp in microseconds since session start.
	PTS   int64
	Flags UnitFlags
	// Seq numbers units in emission order within a session, starting at 0.
	Seq     uint64
	release func()
}

// NewAccessUnit builds an access unit whose Release calls release.
func NewAccessUnit(payload []byte, pts int64, flags UnitFlags, release func()) AccessUnit {
	return AccessUnit{Payload: payload, PTS: pts, Flags: flags, release: release}
}

// Release hands the backing buffer back to the codec. Safe to call on a
// unit without a release hook.
func (u *AccessUnit) Release() {
	if u.release != nil {
		r := u.release
		u.release = nil
		r()
	}
}

// IsConfig reports whether the unit carries codec parameter sets only.
func (u *AccessUnit) IsConfig() bool { return u.Flags.Has(FlagConfig) }

// IsKeyframe reports whether the unit is a random access point.
func (u *AccessUnit) IsKeyframe() bool { return u.Flags.Has(FlagKeyframe) }
