// Package media defines the value types shared by every stage of the
// encode pipeline: raw frames, pixel formats, the immutable session
// configuration, encoded access units and the error taxonomy.
//
// Frames and access units move between goroutines by value. A stage that
// hands a frame to the next stage must not touch its buffers afterwards.
package media
