package stream

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/sirupsen/logrus"
)

// RawSource produces planar I420 frames of a fixed size for the preview
// encoder. FrameTap is the production implementation.
type RawSource interface {
	// Next returns one I420 frame (len = w*h + 2*(w/2)*(h/2)) and false
	// once the source is closed.
	Next() ([]byte, bool)
	Stop()
}

// PreviewConfig defines how converted frames are encoded to H.264 and fed
// to a Pion track.
type PreviewConfig struct {
	Width, Height int
	FPS           int
	Source        RawSource
	// Track expects WriteSample(media.Sample), e.g. *webrtc.TrackLocalStaticSample
	// or a SampleBroadcaster.
	Track  interface{}
	FFmpeg string // executable, default "ffmpeg"
	Log    *logrus.Entry
}

// H264Pipeline runs ffmpeg as a low-latency H.264 encoder between a
// RawSource and a sample track.
type H264Pipeline struct {
	cfg      PreviewConfig
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	quit     chan struct{}
	stopOnce sync.Once
}

// StartH264Pipeline starts ffmpeg and the goroutines pumping frames in and
// access units out.
func StartH264Pipeline(cfg PreviewConfig) (*H264Pipeline, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Width < 2 || cfg.Height < 2 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("preview size %dx%d must be even and at least 2x2", cfg.Width, cfg.Height)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("preview needs a frame source")
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &H264Pipeline{cfg: cfg}
	if err := p.start(); err != nil {
		return nil, err
	}
	return p, nil
}

func previewArgs(w, h, fps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s:v", strconv.Itoa(w) + "x" + strconv.Itoa(h),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-g", strconv.Itoa(2*fps),
		"-f", "h264",
		"-",
	}
}

func (p *H264Pipeline) start() error {
	cmd := exec.Command(p.cfg.FFmpeg, previewArgs(p.cfg.Width, p.cfg.Height, p.cfg.FPS)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start preview encoder: %w", err)
	}
	p.cmd, p.stdin, p.stdout = cmd, stdin, stdout
	p.quit = make(chan struct{})
	p.cfg.Log.WithFields(logrus.Fields{
		"width":  p.cfg.Width,
		"height": p.cfg.Height,
		"fps":    p.cfg.FPS,
	}).Info("preview encoder started")

	go p.pump()
	go p.drain()
	return nil
}

// pump paces frames from the source into ffmpeg at the configured rate.
func (p *H264Pipeline) pump() {
	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FPS))
	defer ticker.Stop()
	want := i420Size(p.cfg.Width, p.cfg.Height)
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
		}
		frame, ok := p.cfg.Source.Next()
		if !ok {
			return
		}
		if len(frame) != want {
			continue
		}
		if _, err := p.stdin.Write(frame); err != nil {
			p.cfg.Log.WithError(err).Debug("preview encoder input closed")
			return
		}
	}
}

// drain splits ffmpeg output into access units and enqueues them as samples.
func (p *H264Pipeline) drain() {
	enqueue, stopWriter := newAsyncSampleWriter(p.cfg.Track)
	defer stopWriter()
	r := newAnnexBReader(p.stdout)
	dur := time.Second / time.Duration(p.cfg.FPS)
	for {
		au, err := r.nextAccessUnit()
		if err != nil {
			return
		}
		if len(au) == 0 {
			continue
		}
		enqueue(media.Sample{Data: au, Duration: dur})
	}
}

// Stop terminates the encoder and the source. Safe to call more than once.
func (p *H264Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		_ = p.stdin.Close()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
			_ = p.cmd.Wait()
		}
		p.cfg.Source.Stop()
		p.cfg.Log.Info("preview encoder stopped")
	})
}
