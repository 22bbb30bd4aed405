package stream

import (
	"sync"

	"github.com/pion/webrtc/v3/pkg/media"
)

// SampleBroadcaster fans preview access units out to every WHEP session.
// Each viewer has its own short queue, and a viewer that joins mid-stream
// receives nothing until the next IDR access unit, since the decoder
// cannot start from a P slice. Samples a viewer misses are counted as
// preview_dropped.
type SampleBroadcaster struct {
	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	closed  bool
}

type viewer struct {
	queue chan media.Sample
	quit  chan struct{}
	track interface{ WriteSample(media.Sample) error }
}

// NewSampleBroadcaster creates a broadcaster. Call Close when done.
func NewSampleBroadcaster() *SampleBroadcaster {
	return &SampleBroadcaster{viewers: make(map[*viewer]struct{})}
}

// Add registers a session track and returns the function removing it.
// Tracks without WriteSample, and any track added after Close, get a
// no-op remove.
func (b *SampleBroadcaster) Add(track interface{}) (remove func()) {
	w, ok := track.(interface{ WriteSample(media.Sample) error })
	if !ok {
		return func() {}
	}
	v := &viewer{queue: make(chan media.Sample, 4), quit: make(chan struct{}), track: w}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.viewers[v] = struct{}{}
	b.mu.Unlock()

	go v.run()
	return func() {
		b.mu.Lock()
		if _, ok := b.viewers[v]; ok {
			delete(b.viewers, v)
			close(v.quit)
		}
		b.mu.Unlock()
	}
}

func (v *viewer) run() {
	synced := false
	for {
		select {
		case sm := <-v.queue:
			if !synced {
				if !isKeyAccessUnit(sm.Data) {
					previewDropped.Add(1)
					continue
				}
				synced = true
			}
			if err := v.track.WriteSample(sm); err == nil {
				samplesSent.Add(1)
			}
		case <-v.quit:
			return
		}
	}
}

// Len reports the number of registered viewers.
func (b *SampleBroadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}

// WriteSample queues sm for every viewer without blocking; a full queue
// drops the sample for that viewer only.
func (b *SampleBroadcaster) WriteSample(sm media.Sample) error {
	b.mu.RLock()
	for v := range b.viewers {
		select {
		case v.queue <- sm:
		default:
			previewDropped.Add(1)
		}
	}
	b.mu.RUnlock()
	return nil
}

// Close stops every viewer. Later Adds are ignored.
func (b *SampleBroadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	for v := range b.viewers {
		close(v.quit)
		delete(b.viewers, v)
	}
	b.mu.Unlock()
}
