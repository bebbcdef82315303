package media

import (
	"sync"

	"github.com/nmxmxh/marionette/internal/physics"
)

// letterboxParams holds the precomputed geometry for one source size.
type letterboxParams struct {
	srcW, srcH       int
	scaledW, scaledH int
	offX, offY       int
	xMap, yMap       []int // target index -> source index inside the scaled region
}

// Letterbox scales frames into a fixed target size, preserving aspect
// ratio with black bars. The index maps are computed once per source
// size and reused until the renderer changes resolution.
type Letterbox struct {
	dstW, dstH int

	mu     sync.Mutex
	params *letterboxParams
}

func NewLetterbox(width, height int) *Letterbox {
	return &Letterbox{dstW: width, dstH: height}
}

// Transform returns a packed RGB buffer of the target size. Unused border
// pixels stay black.
func (l *Letterbox) Transform(frame *physics.Frame) []byte {
	out := make([]byte, l.dstW*l.dstH*3)
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return out
	}

	p := l.paramsFor(frame.Width, frame.Height)
	for y := 0; y < p.scaledH; y++ {
		srcRow := p.yMap[y] * frame.Width * 3
		dstRow := ((y+p.offY)*l.dstW + p.offX) * 3
		for x := 0; x < p.scaledW; x++ {
			si := srcRow + p.xMap[x]*3
			di := dstRow + x*3
			out[di] = frame.Pixels[si]
			out[di+1] = frame.Pixels[si+1]
			out[di+2] = frame.Pixels[si+2]
		}
	}
	return out
}

func (l *Letterbox) paramsFor(srcW, srcH int) *letterboxParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.params != nil && l.params.srcW == srcW && l.params.srcH == srcH {
		return l.params
	}

	// Nearest-neighbor maps: integer math only, no per-pixel float work.
	scaledW := l.dstW
	scaledH := srcH * l.dstW / srcW
	if scaledH > l.dstH {
		scaledH = l.dstH
		scaledW = srcW * l.dstH / srcH
	}

	p := &letterboxParams{
		srcW:    srcW,
		srcH:    srcH,
		scaledW: scaledW,
		scaledH: scaledH,
		offX:    (l.dstW - scaledW) / 2,
		offY:    (l.dstH - scaledH) / 2,
		xMap:    make([]int, scaledW),
		yMap:    make([]int, scaledH),
	}
	for x := range p.xMap {
		p.xMap[x] = x * srcW / scaledW
	}
	for y := range p.yMap {
		p.yMap[y] = y * srcH / scaledH
	}
	l.params = p
	return p
}
