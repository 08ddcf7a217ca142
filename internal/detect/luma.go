package detect

import (
	"context"
	"fmt"
	"image"
	"sort"

	"github.com/smazurov/livenode/internal/media"
)

// Luma finds bright connected regions on a sampled luma grid.
type Luma struct {
	cfg Config
}

// NewLuma creates a luma detector.
func NewLuma(cfg Config) *Luma {
	return &Luma{cfg: cfg.withDefaults()}
}

func (l *Luma) Name() string { return "luma-blob" }

// Detect returns the bright regions of f ordered by area, largest first.
func (l *Luma) Detect(ctx context.Context, f media.Frame) ([]Box, error) {
	if len(f.Planes) == 0 || f.Format != media.PixelFormatI420 {
		return nil, fmt.Errorf("%w: detector needs I420, got %s", media.ErrUnsupportedFormat, f.Format)
	}
	y := f.Planes[0]
	if y.RowStride < f.Width || len(y.Data) < y.RowStride*(f.Height-1)+f.Width {
		return nil, fmt.Errorf("%w: luma plane %d bytes for %dx%d", media.ErrFrameTooSmall, len(y.Data), f.Width, f.Height)
	}

	step := l.cfg.Step
	gw := (f.Width + step - 1) / step
	gh := (f.Height + step - 1) / step

	fg := make([]bool, gw*gh)
	for gy := range gh {
		row := y.Data[gy*step*y.RowStride:]
		for gx := range gw {
			fg[gy*gw+gx] = row[gx*step] >= l.cfg.Threshold
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make([]bool, len(fg))
	var boxes []Box
	var stack []int
	cellArea := step * step

	for start := range fg {
		if !fg[start] || seen[start] {
			continue
		}
		minX, minY, maxX, maxY := gw, gh, -1, -1
		cells := 0
		lumaSum := 0

		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			gx, gy := i%gw, i/gw
			cells++
			lumaSum += int(y.Data[gy*step*y.RowStride+gx*step])
			minX, maxX = min(minX, gx), max(maxX, gx)
			minY, maxY = min(minY, gy), max(maxY, gy)

			for _, n := range [4][2]int{{gx - 1, gy}, {gx + 1, gy}, {gx, gy - 1}, {gx, gy + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= gw || n[1] >= gh {
					continue
				}
				j := n[1]*gw + n[0]
				if fg[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}

		if cells*cellArea < l.cfg.MinPixels {
			continue
		}
		rect := image.Rect(minX*step, minY*step, (maxX+1)*step, (maxY+1)*step).
			Intersect(image.Rect(0, 0, f.Width, f.Height))
		boxes = append(boxes, Box{
			Rect:       rect,
			Confidence: float64(lumaSum) / float64(cells) / 255,
			Label:      "bright",
		})
	}

	sort.Slice(boxes, func(i, j int) bool {
		ai, aj := boxes[i].Rect.Dx()*boxes[i].Rect.Dy(), boxes[j].Rect.Dx()*boxes[j].Rect.Dy()
		return ai > aj
	})
	return boxes, nil
}
