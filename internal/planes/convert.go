package planes

import (
	"fmt"

	"github.com/smazurov/livenode/internal/media"
)

// ToNV12 converts packed I420 into NV12 (Y plane, then interleaved UV).
func ToNV12(i420 []byte, width, height int) ([]byte, error) {
	return interleave(i420, width, height, false)
}

// ToNV21 converts packed I420 into NV21 (Y plane, then interleaved VU).
func ToNV21(i420 []byte, width, height int) ([]byte, error) {
	return interleave(i420, width, height, true)
}

func interleave(i420 []byte, width, height int, vFirst bool) ([]byte, error) {
	size := media.I420Size(width, height)
	if len(i420) < size {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", media.ErrFrameTooSmall, len(i420), size)
	}
	ySize := width * height
	cSize := media.ChromaWidth(width) * media.ChromaHeight(height)
	u := i420[ySize : ySize+cSize]
	v := i420[ySize+cSize : ySize+2*cSize]

	out := make([]byte, size)
	copy(out, i420[:ySize])
	uv := out[ySize:]
	first, second := u, v
	if vFirst {
		first, second = v, u
	}
	for i := 0; i < cSize; i++ {
		uv[2*i] = first[i]
		uv[2*i+1] = second[i]
	}
	return out, nil
}
