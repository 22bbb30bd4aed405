package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rgb2hsv/internal/hsv"
)

// Options configures Run.
type Options struct {
	Workers int         // row workers per frame; <= 0 means runtime.NumCPU()
	Variant hsv.Variant // kernel used for every pixel
	// OnFrame, when set, sees each converted frame after the row barrier and
	// before it is written. It must not retain or modify f.Data.
	OnFrame func(f Frame)
	Log     *logrus.Entry
}

// Stats summarises one Run.
type Stats struct {
	FramesDeclared int
	FramesRead     int
	FramesWritten  int
	Pixels         uint64
	Started        time.Time
	Elapsed        time.Duration
}

// FPS is the average throughput of the run.
func (s Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.FramesWritten) / s.Elapsed.Seconds()
}

// Run converts every frame of src and pushes it to dst in order. It stops
// without error at end of stream or when ctx is cancelled; frames already
// written stay written. A malformed frame or a failed write aborts the run.
// Run does not close src or dst.
func Run(ctx context.Context, src Source, dst Sink, opts Options) (Stats, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	info := src.Info()
	timer := StartTimer()
	st := Stats{FramesDeclared: info.FrameCount, Started: timer.Started()}

	log.WithFields(logrus.Fields{
		"width":    info.Width,
		"height":   info.Height,
		"channels": info.Channels,
		"frames":   info.FrameCount,
		"fps":      info.FPS,
		"variant":  opts.Variant.String(),
		"workers":  opts.Workers,
	}).Info("transcode started")

	for counter := 0; info.FrameCount <= 0 || counter < info.FrameCount; counter++ {
		if err := ctx.Err(); err != nil {
			log.WithFields(logrus.Fields{
				"frames_written": st.FramesWritten,
				"elapsed":        timer.Elapsed().String(),
			}).Warn("transcode interrupted")
			break
		}

		frame, ok := src.Next()
		if !ok || frame.Empty() {
			if info.FrameCount > 0 {
				log.WithFields(logrus.Fields{
					"frame":    counter,
					"declared": info.FrameCount,
				}).Debug("source ended before declared frame count")
			}
			break
		}
		framesIn.Add(1)
		st.FramesRead++

		if err := frame.Validate(info); err != nil {
			st.Elapsed = timer.Stop()
			return st, fmt.Errorf("frame %d: %w", counter, err)
		}

		out := frame.Clone()
		ConvertFrame(out, opts.Workers, opts.Variant)
		pixels := uint64(out.Rows * out.Cols)
		framesConverted.Add(1)
		pixelsConverted.Add(pixels)
		st.Pixels += pixels

		if opts.OnFrame != nil {
			opts.OnFrame(out)
		}

		if err := dst.WriteFrame(out); err != nil {
			st.Elapsed = timer.Stop()
			return st, fmt.Errorf("frame %d: %w", counter, err)
		}
		framesWritten.Add(1)
		st.FramesWritten++
	}

	st.Elapsed = timer.Stop()
	log.WithFields(logrus.Fields{
		"frames_written": st.FramesWritten,
		"elapsed":        st.Elapsed.String(),
		"fps":            fmt.Sprintf("%.2f", st.FPS()),
	}).Info("transcode finished")
	return st, nil
}
