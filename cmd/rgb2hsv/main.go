// Command rgb2hsv rewrites every pixel of a video from BGR to HSV, keeping
// frame size, frame rate and codec.
//
//	rgb2hsv [flags] <input> <output>
//
// The kernel is fixed at build time: go build -tags hsv_closed ./cmd/rgb2hsv
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rgb2hsv/internal/config"
	"rgb2hsv/internal/hsv"
	"rgb2hsv/internal/media"
	"rgb2hsv/internal/report"
	"rgb2hsv/internal/server"
	"rgb2hsv/internal/stream"
	"rgb2hsv/internal/version"
)

const exitFailure = -1

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			_, _ = io.WriteString(stderr, err.Error()+"\n")
		}
		return exitFailure
	}

	runID := uuid.New()
	log := cfg.Logger(stderr).WithField("run_id", runID.String())
	log.WithField("version", version.String()).Info("rgb2hsv starting")

	src, err := media.OpenReader(ctx, cfg.Input, log)
	if err != nil {
		log.WithError(err).Error("could not open the input video")
		return exitFailure
	}
	defer src.Stop()
	info := src.Info()
	log.WithFields(logrus.Fields{
		"codec":  info.Codec,
		"width":  info.Width,
		"height": info.Height,
		"frames": info.FrameCount,
	}).Info("input opened")

	dst, err := media.OpenWriter(cfg.Output, info, log)
	if err != nil {
		log.WithError(err).Error("could not open the output video for write")
		return exitFailure
	}

	opts := stream.Options{Workers: cfg.Workers, Variant: hsv.DefaultVariant, Log: log}
	if cfg.Preview {
		p, err := startPreview(ctx, cfg, info, log)
		if err != nil {
			log.WithError(err).Warn("preview disabled")
		} else {
			defer p.stop()
			opts.OnFrame = p.tap.Offer
		}
	}

	st, runErr := stream.Run(ctx, src, dst, opts)
	closeErr := dst.Close()

	rep := report.New(runID, info, st)
	rep.Version = version.String()
	rep.Input, rep.Output = cfg.Input, cfg.Output
	rep.Variant = opts.Variant.String()
	rep.Workers = cfg.Workers
	rep.Interrupted = ctx.Err() != nil
	log.WithFields(rep.Fields()).Info("total duration")
	if cfg.Report != "" {
		if err := report.Write(cfg.Report, rep); err != nil {
			log.WithError(err).Warn("run report not written")
		}
	}

	if runErr != nil {
		log.WithError(runErr).Error("transcode failed")
		return exitFailure
	}
	if closeErr != nil {
		log.WithError(closeErr).Error("finalising output failed")
		return exitFailure
	}
	return 0
}

// preview owns the tap, encoder and server started for -preview.
type preview struct {
	tap    *stream.FrameTap
	enc    *stream.H264Pipeline
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *preview) stop() {
	p.enc.Stop()
	p.cancel()
	<-p.done
}

func startPreview(ctx context.Context, cfg config.Config, info stream.Info, log *logrus.Entry) (*preview, error) {
	ctx, cancel := context.WithCancel(ctx)
	srv := server.NewWhepServer(server.Config{Host: cfg.Host, Port: cfg.Port}, func() map[string]any {
		return map[string]any{"frames_total": info.FrameCount}
	}, log.WithField("component", "preview"))

	tap := stream.NewFrameTap(info.Width, info.Height)
	w, h := tap.Size()
	fps := int(info.FPS + 0.5)
	enc, err := stream.StartH264Pipeline(stream.PreviewConfig{
		Width:  w,
		Height: h,
		FPS:    fps,
		Source: tap,
		Track:  srv.Broadcaster(),
		FFmpeg: media.FFmpegPath,
		Log:    log.WithField("component", "preview"),
	})
	if err != nil {
		cancel()
		return nil, err
	}

	p := &preview{tap: tap, enc: enc, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		if err := srv.Run(ctx); err != nil {
			log.WithError(err).Warn("preview server stopped")
		}
	}()
	return p, nil
}
