// Package planes repacks camera buffers into the tightly packed 4:2:0
// layouts that encoders accept.
package planes

import (
	"fmt"
	"sync/atomic"

	"github.com/smazurov/livenode/internal/media"
)

// Extractor converts padded camera frames into packed I420.
// It is safe for concurrent use; the counters are atomic.
type Extractor struct {
	extracted atomic.Uint64
	dropped   atomic.Uint64
	slowPath  atomic.Uint64
}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns a new frame holding packed I420 of exactly
// width*height*3/2 bytes (rounded up for odd sizes). The input frame is
// only read. Unsupported formats and short buffers are reported as frame
// errors and counted as drops.
func (e *Extractor) Extract(src media.Frame) (media.Frame, error) {
	out, err := e.extract(src)
	if err != nil {
		e.dropped.Add(1)
		return media.Frame{}, media.NewError(media.KindFrame, "extract", err)
	}
	e.extracted.Add(1)
	return out, nil
}

// Extracted returns the number of frames successfully repacked.
func (e *Extractor) Extracted() uint64 { return e.extracted.Load() }

// Dropped returns the number of frames rejected.
func (e *Extractor) Dropped() uint64 { return e.dropped.Load() }

// SlowPath returns how many frames needed the row-by-row copy.
func (e *Extractor) SlowPath() uint64 { return e.slowPath.Load() }

func (e *Extractor) extract(src media.Frame) (media.Frame, error) {
	w, h := src.Width, src.Height
	if w <= 0 || h <= 0 {
		return media.Frame{}, fmt.Errorf("%w: %dx%d", media.ErrFrameTooSmall, w, h)
	}
	cw, ch := media.ChromaWidth(w), media.ChromaHeight(h)

	y, u, v, err := sourcePlanes(src)
	if err != nil {
		return media.Frame{}, err
	}

	buf := make([]byte, media.I420Size(w, h))
	ySize := w * h
	cSize := cw * ch

	slow := false
	for i, job := range []struct {
		plane media.Plane
		dst   []byte
		w, h  int
	}{
		{y, buf[:ySize], w, h},
		{u, buf[ySize : ySize+cSize], cw, ch},
		{v, buf[ySize+cSize:], cw, ch},
	} {
		usedSlow, err := copyPlane(job.dst, job.plane, job.w, job.h)
		if err != nil {
			return media.Frame{}, fmt.Errorf("plane %d: %w", i, err)
		}
		slow = slow || usedSlow
	}
	if slow {
		e.slowPath.Add(1)
	}

	out := media.NewI420Frame(buf, w, h, src.Timestamp)
	out.Seq = src.Seq
	return out, nil
}

// sourcePlanes resolves the Y, U and V planes of a supported frame, turning
// interleaved chroma into pixel-strided views.
func sourcePlanes(src media.Frame) (y, u, v media.Plane, err error) {
	switch src.Format {
	case media.PixelFormatI420, media.PixelFormatYUV420Flexible:
		if len(src.Planes) != 3 {
			return y, u, v, fmt.Errorf("%w: %s needs 3 planes, got %d", media.ErrUnsupportedFormat, src.Format, len(src.Planes))
		}
		return src.Planes[0], src.Planes[1], src.Planes[2], nil
	case media.PixelFormatYV12:
		if len(src.Planes) != 3 {
			return y, u, v, fmt.Errorf("%w: yv12 needs 3 planes, got %d", media.ErrUnsupportedFormat, len(src.Planes))
		}
		return src.Planes[0], src.Planes[2], src.Planes[1], nil
	case media.PixelFormatNV12, media.PixelFormatNV21:
		if len(src.Planes) != 2 {
			return y, u, v, fmt.Errorf("%w: %s needs 2 planes, got %d", media.ErrUnsupportedFormat, src.Format, len(src.Planes))
		}
		uv := src.Planes[1]
		first := media.Plane{Data: uv.Data, RowStride: uv.RowStride, PixelStride: 2}
		second := media.Plane{RowStride: uv.RowStride, PixelStride: 2}
		if len(uv.Data) > 0 {
			second.Data = uv.Data[1:]
		}
		if src.Format == media.PixelFormatNV12 {
			return src.Planes[0], first, second, nil
		}
		return src.Planes[0], second, first, nil
	default:
		return y, u, v, fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, src.Format)
	}
}

// copyPlane copies a w×h sample grid from p into dst. It reports whether the
// row-by-row path was used.
func copyPlane(dst []byte, p media.Plane, w, h int) (bool, error) {
	rowStride := p.RowStride
	if rowStride == 0 {
		rowStride = w
	}
	pixelStride := p.PixelStride
	if pixelStride == 0 {
		pixelStride = 1
	}
	if rowStride < (w-1)*pixelStride+1 {
		return false, fmt.Errorf("%w: row stride %d for width %d", media.ErrFrameTooSmall, rowStride, w)
	}
	// The last row may omit its padding.
	need := (h-1)*rowStride + (w-1)*pixelStride + 1
	if len(p.Data) < need {
		return false, fmt.Errorf("%w: have %d bytes, need %d", media.ErrFrameTooSmall, len(p.Data), need)
	}

	if rowStride == w && pixelStride == 1 {
		copy(dst[:w*h], p.Data[:w*h])
		return false, nil
	}

	out := 0
	for row := 0; row < h; row++ {
		line := p.Data[row*rowStride:]
		if pixelStride == 1 {
			copy(dst[out:out+w], line[:w])
			out += w
			continue
		}
		for col := 0; col < w; col++ {
			dst[out] = line[col*pixelStride]
			out++
		}
	}
	return true, nil
}
