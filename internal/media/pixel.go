package media

import "fmt"

// PixelFormat tags the memory layout of a raw frame.
type PixelFormat int

// Pixel formats understood by the plane extractor.
const (
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatI420 is planar Y, U, V with quarter-size chroma planes.
	PixelFormatI420
	// PixelFormatYV12 is planar Y, V, U.
	PixelFormatYV12
	// PixelFormatNV12 is a Y plane followed by interleaved UV.
	PixelFormatNV12
	// PixelFormatNV21 is a Y plane followed by interleaved VU.
	PixelFormatNV21
	// PixelFormatYUV420Flexible is three planes with independent row and
	// pixel strides (the camera HAL layout).
	PixelFormatYUV420Flexible
	// PixelFormatRGBA is packed 8-bit RGBA. Not accepted by the encoder path.
	PixelFormatRGBA
	// PixelFormatYUYV is packed 4:2:2. Not accepted by the encoder path.
	PixelFormatYUYV
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatUnknown:        "unknown",
	PixelFormatI420:           "i420",
	PixelFormatYV12:           "yv12",
	PixelFormatNV12:           "nv12",
	PixelFormatNV21:           "nv21",
	PixelFormatYUV420Flexible: "yuv420_flexible",
	PixelFormatRGBA:           "rgba",
	PixelFormatYUYV:           "yuyv",
}

func (p PixelFormat) String() string {
	if name, ok := pixelFormatNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pixfmt(%d)", int(p))
}

// IsYUV420 reports whether the format carries 4:2:0 subsampled chroma.
func (p PixelFormat) IsYUV420() bool {
	switch p {
	case PixelFormatI420, PixelFormatYV12, PixelFormatNV12, PixelFormatNV21, PixelFormatYUV420Flexible:
		return true
	default:
		return false
	}
}

// ParsePixelFormat maps a format name to its tag.
func ParsePixelFormat(name string) (PixelFormat, error) {
	for p, n := range pixelFormatNames {
		if n == name && p != PixelFormatUnknown {
			return p, nil
		}
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", name)
}

// I420Size returns the byte size of a tightly packed 4:2:0 frame.
func I420Size(width, height int) int {
	return width*height + 2*ChromaWidth(width)*ChromaHeight(height)
}

// ChromaWidth is the width of a 4:2:0 chroma plane.
func ChromaWidth(width int) int { return (width + 1) / 2 }

// ChromaHeight is the height of a 4:2:0 chroma plane.
func ChromaHeight(height int) int { return (height + 1) / 2 }
