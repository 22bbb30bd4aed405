package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"rgb2hsv/internal/stream"
)

// Reader decodes a video file into raw frames through an ffmpeg child
// process. It implements stream.Source.
type Reader struct {
	info    stream.Info
	cmd     *exec.Cmd
	out     io.ReadCloser
	r       *bufio.Reader
	stderr  *tailBuffer
	log     *logrus.Entry
	done    bool
	stopped bool
}

// OpenReader probes path and starts decoding it. Every failure wraps
// ErrOpenInput.
func OpenReader(ctx context.Context, path string, log *logrus.Entry) (*Reader, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenInput, err)
	}
	info, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, FFmpegPath, readerArgs(path, info.Channels)...)
	detach(cmd)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenInput, err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start decoder: %v", ErrOpenInput, err)
	}
	log.WithFields(logrus.Fields{
		"path":  path,
		"codec": info.Codec,
		"size":  fmt.Sprintf("%dx%d", info.Width, info.Height),
	}).Debug("decoder started")

	return &Reader{
		info:   info,
		cmd:    cmd,
		out:    out,
		r:      bufio.NewReaderSize(out, info.Width*info.Height*info.Channels),
		stderr: stderr,
		log:    log,
	}, nil
}

func readerArgs(path string, channels int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-an", "-sn",
		"-vsync", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", rawPixFmt(channels),
		"-",
	}
}

// Info returns the stream metadata established at open time.
func (r *Reader) Info() stream.Info { return r.info }

// Next reads one frame. A short read or EOF ends the stream.
func (r *Reader) Next() (stream.Frame, bool) {
	if r.done {
		return stream.Frame{}, false
	}
	f := stream.NewFrame(r.info.Height, r.info.Width, r.info.Channels)
	if _, err := io.ReadFull(r.r, f.Data); err != nil {
		r.done = true
		if err != io.EOF {
			r.log.WithError(err).Debug("decoder ended mid-frame")
		}
		return stream.Frame{}, false
	}
	return f, true
}

// Stop terminates the decoder if it is still running.
func (r *Reader) Stop() {
	if r.stopped {
		return
	}
	r.stopped, r.done = true, true
	_ = r.out.Close()
	if r.cmd.ProcessState == nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	if err := r.cmd.Wait(); err != nil && r.stderr.Len() > 0 {
		r.log.WithField("stderr", r.stderr.String()).Debug("decoder exited")
	}
}
