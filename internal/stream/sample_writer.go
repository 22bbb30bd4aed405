package stream

import (
	"github.com/pion/webrtc/v3/pkg/media"
)

// asyncSampleWriter is a small buffered, asynchronous wrapper around
// WriteSample so the preview encoder never blocks on network backpressure.
// Writes are best-effort; if the queue is full, the sample is dropped.
type asyncSampleWriter struct {
	ch   chan media.Sample
	quit chan struct{}
}

// newAsyncSampleWriter starts a writer goroutine if track implements
// WriteSample(media.Sample) and returns a non-blocking enqueue function and a
// stop function. Without WriteSample, enqueue is a no-op returning false.
func newAsyncSampleWriter(track interface{}) (enqueue func(media.Sample) bool, stop func()) {
	w, ok := track.(interface{ WriteSample(media.Sample) error })
	if !ok {
		return func(media.Sample) bool { return false }, func() {}
	}
	aw := &asyncSampleWriter{ch: make(chan media.Sample, 4), quit: make(chan struct{})}
	go func() {
		for {
			select {
			case s := <-aw.ch:
				if err := w.WriteSample(s); err == nil {
					samplesEncoded.Add(1)
				}
			case <-aw.quit:
				return
			}
		}
	}()
	return func(s media.Sample) bool {
		select {
		case aw.ch <- s:
			return true
		default:
			previewDropped.Add(1)
			return false
		}
	}, func() { close(aw.quit) }
}
