package media

import "time"

// Plane is one image plane inside a frame buffer.
type Plane struct {
	Data []byte
	// RowStride is the distance in bytes between the starts of two rows.
	RowStride int
	// PixelStride is the distance in bytes between two samples of a row.
	// 1 for planar data, 2 for interleaved chroma.
	PixelStride int
}

// Frame is a raw image produced by a frame source.
//
// A Frame is owned by exactly one stage at a time. Once passed on, the
// previous owner must not modify Planes.
type Frame struct {
	Planes []Plane
	Width  int
	Height int
	Format PixelFormat
	// Timestamp is the capture time relative to the start of the source.
	Timestamp time.Duration
	// Seq is assigned by the source and increases by one per captured frame.
	Seq uint64
}

// Size returns the total number of bytes referenced by the frame planes.
func (f *Frame) Size() int {
	n := 0
	for _, p := range f.Planes {
		n += len(p.Data)
	}
	return n
}

// NewI420Frame wraps a tightly packed I420 buffer as a three-plane frame.
// The buffer is referenced, not copied.
func NewI420Frame(buf []byte, width, height int, ts time.Duration) Frame {
	ySize := width * height
	cw, ch := ChromaWidth(width), ChromaHeight(height)
	cSize := cw * ch
	return Frame{
		Planes: []Plane{
			{Data: buf[:ySize], RowStride: width, PixelStride: 1},
			{Data: buf[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
			{Data: buf[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
		},
		Width:     width,
		Height:    height,
		Format:    PixelFormatI420,
		Timestamp: ts,
	}
}

// Packed returns the contiguous I420 buffer of a frame built by
// NewI420Frame or by the plane extractor. It returns nil when the planes do
// not share one backing array.
func (f *Frame) Packed() []byte {
	if f.Format != PixelFormatI420 || len(f.Planes) != 3 {
		return nil
	}
	y := f.Planes[0].Data
	total := I420Size(f.Width, f.Height)
	if cap(y) < total {
		return nil
	}
	return y[:total]
}
