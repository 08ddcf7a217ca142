package media

import (
	"image"
	"time"
)

// Surface is an encoder-owned input target that a renderer draws into.
// Present hands a finished image to the encoder; the image must not be
// modified by the caller until Present returns.
type Surface interface {
	Size() (width, height int)
	Present(img image.Image, pts time.Duration) error
	Release() error
}
