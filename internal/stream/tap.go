package stream

import "sync"

// FrameTap keeps the most recent converted frame as planar I420 for the
// preview encoder. Offer never blocks the transcode loop: if the encoder is
// copying the previous frame, the new one is dropped.
//
// I420 needs even dimensions, so an odd last row or column is cropped.
type FrameTap struct {
	mu      sync.Mutex
	srcW    int
	srcH    int
	w, h    int
	latest  []byte // I420, guarded by mu
	out     []byte // handed to the single consumer of Next
	stopped bool
}

// NewFrameTap creates a tap for frames of w x h pixels. Until the first
// Offer, Next yields black.
func NewFrameTap(w, h int) *FrameTap {
	ew, eh := w&^1, h&^1
	t := &FrameTap{
		srcW:   w,
		srcH:   h,
		w:      ew,
		h:      eh,
		latest: make([]byte, i420Size(ew, eh)),
		out:    make([]byte, i420Size(ew, eh)),
	}
	fillBlackI420(t.latest, ew, eh)
	return t
}

// Size is the preview picture size after cropping to even dimensions.
func (t *FrameTap) Size() (w, h int) { return t.w, t.h }

// Offer stores an I420 copy of f. Frames of another size are ignored.
func (t *FrameTap) Offer(f Frame) {
	if f.Rows != t.srcH || f.Cols != t.srcW || f.Channels < 3 || t.w == 0 || t.h == 0 {
		return
	}
	if !t.mu.TryLock() {
		tapDropped.Add(1)
		return
	}
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	frameToI420(f, t.w, t.h, t.latest)
}

// Next returns the latest frame and false after Stop. The returned slice is
// reused by the following call.
func (t *FrameTap) Next() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, false
	}
	copy(t.out, t.latest)
	return t.out, true
}

// Stop ends the feed.
func (t *FrameTap) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func i420Size(w, h int) int { return w*h + 2*(w/2)*(h/2) }

func fillBlackI420(dst []byte, w, h int) {
	y := w * h
	for i := range dst {
		if i < y {
			dst[i] = 16
		} else {
			dst[i] = 128
		}
	}
}

// frameToI420 converts the top-left w x h pixels of f (w, h even) to I420
// with an integer BT.601 limited-range approximation. The three stored
// channels are read as B, G, R whatever they currently hold, so a converted
// frame previews as false colour.
func frameToI420(f Frame, w, h int, dst []byte) {
	yPlane := dst[:w*h]
	uPlane := dst[w*h : w*h+(w/2)*(h/2)]
	vPlane := dst[w*h+(w/2)*(h/2):]
	ch := f.Channels
	stride := f.Stride()

	for row := 0; row < h; row++ {
		for x := 0; x < w; x++ {
			off := row*stride + x*ch
			b := int(f.Data[off+0])
			g := int(f.Data[off+1])
			r := int(f.Data[off+2])
			yPlane[row*w+x] = clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}
	for row := 0; row < h; row += 2 {
		for x := 0; x < w; x += 2 {
			var rSum, gSum, bSum int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					off := (row+dy)*stride + (x+dx)*ch
					bSum += int(f.Data[off+0])
					gSum += int(f.Data[off+1])
					rSum += int(f.Data[off+2])
				}
			}
			r, g, b := rSum>>2, gSum>>2, bSum>>2
			ci := (row/2)*(w/2) + x/2
			uPlane[ci] = clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			vPlane[ci] = clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
		}
	}
}

func clamp8(x int) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}
