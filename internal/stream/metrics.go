package stream

import "sync/atomic"

// Process-wide counters, read by the preview server's health and stats
// endpoints while a transcode is running.
var (
	framesIn        atomic.Uint64 // frames pulled from the Source
	framesConverted atomic.Uint64 // frames run through the kernel
	framesWritten   atomic.Uint64 // frames accepted by the Sink
	pixelsConverted atomic.Uint64
	tapDropped      atomic.Uint64 // frames the preview tap skipped because it was busy
	samplesEncoded  atomic.Uint64 // preview access units out of the encoder
	samplesSent     atomic.Uint64 // preview samples handed to WebRTC tracks
	previewDropped  atomic.Uint64 // preview samples a viewer never got
)

// ResetCounters resets all metrics to zero.
func ResetCounters() {
	framesIn.Store(0)
	framesConverted.Store(0)
	framesWritten.Store(0)
	pixelsConverted.Store(0)
	tapDropped.Store(0)
	samplesEncoded.Store(0)
	samplesSent.Store(0)
	previewDropped.Store(0)
}

// GetCounters returns a snapshot of current metrics.
func GetCounters() map[string]uint64 {
	return map[string]uint64{
		"frames_in":        framesIn.Load(),
		"frames_converted": framesConverted.Load(),
		"frames_written":   framesWritten.Load(),
		"pixels_converted": pixelsConverted.Load(),
		"tap_dropped":      tapDropped.Load(),
		"samples_encoded":  samplesEncoded.Load(),
		"samples_sent":     samplesSent.Load(),
		"preview_dropped":  previewDropped.Load(),
	}
}
