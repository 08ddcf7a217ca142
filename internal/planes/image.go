package planes

import (
	"fmt"
	"image"
	"image/color"

	"github.com/smazurov/livenode/internal/media"
)

// ToImage wraps packed I420 as a 4:2:0 image without copying.
func ToImage(i420 []byte, width, height int) (*image.YCbCr, error) {
	size := media.I420Size(width, height)
	if len(i420) < size {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", media.ErrFrameTooSmall, len(i420), size)
	}
	ySize := width * height
	cw, ch := media.ChromaWidth(width), media.ChromaHeight(height)
	cSize := cw * ch
	return &image.YCbCr{
		Y:              i420[:ySize],
		Cb:             i420[ySize : ySize+cSize],
		Cr:             i420[ySize+cSize : ySize+2*cSize],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}

// FromImage converts img to packed I420, writing into dst when it is large
// enough. Chroma is taken from the top-left pixel of each 2x2 block.
func FromImage(img image.Image, dst []byte) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	size := media.I420Size(w, h)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	cw := media.ChromaWidth(w)
	ySize := w * h
	cSize := cw * media.ChromaHeight(h)
	yp, up, vp := dst[:ySize], dst[ySize:ySize+cSize], dst[ySize+cSize:]

	if src, ok := img.(*image.YCbCr); ok && src.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		for y := 0; y < h; y++ {
			off := src.YOffset(b.Min.X, b.Min.Y+y)
			copy(yp[y*w:(y+1)*w], src.Y[off:off+w])
		}
		for y := 0; y < media.ChromaHeight(h); y++ {
			off := src.COffset(b.Min.X, b.Min.Y+2*y)
			copy(up[y*cw:(y+1)*cw], src.Cb[off:off+cw])
			copy(vp[y*cw:(y+1)*cw], src.Cr[off:off+cw])
		}
		return dst
	}

	rgba, isRGBA := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl uint8
			if isRGBA {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
			} else {
				cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r, g, bl = uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)
			}
			yy, cb, cr := color.RGBToYCbCr(r, g, bl)
			yp[y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				ci := (y/2)*cw + x/2
				up[ci] = cb
				vp[ci] = cr
			}
		}
	}
	return dst
}
