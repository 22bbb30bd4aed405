package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rgb2hsv/internal/stream"
)

// Writer encodes raw frames to a video file through an ffmpeg child
// process, using the codec and frame rate of the input. It implements
// stream.Sink.
type Writer struct {
	info   stream.Info
	path   string
	cmd    *exec.Cmd
	in     io.WriteCloser
	stderr *tailBuffer
	log    *logrus.Entry
	frames int

	exited  chan struct{} // closed once the encoder process is gone
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// EncoderStartup is how long OpenWriter watches a fresh encoder for an
// immediate exit, which ffmpeg does when it cannot open the output stream.
var EncoderStartup = 250 * time.Millisecond

// OpenWriter checks that path can be created and starts the encoder. Every
// failure wraps ErrOpenOutput. The encoder is not tied to a context: it
// must outlive an interrupt so Close can finish the container.
func OpenWriter(path string, info stream.Info, log *logrus.Entry) (*Writer, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, fmt.Errorf("%w: invalid stream %dx%d at %v fps", ErrOpenOutput, info.Width, info.Height, info.FPS)
	}
	if info.Channels < 3 {
		info.Channels = 3
	}
	if err := probeWritable(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenOutput, err)
	}
	if err := checkEncoder(info.Codec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenOutput, err)
	}

	cmd := exec.Command(FFmpegPath, writerArgs(path, info)...)
	detach(cmd)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenOutput, err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start encoder: %v", ErrOpenOutput, err)
	}
	w := &Writer{info: info, path: path, cmd: cmd, in: in, stderr: stderr, log: log, exited: make(chan struct{})}
	go func() {
		w.waitErr = cmd.Wait()
		close(w.exited)
	}()

	select {
	case <-w.exited:
		_ = in.Close()
		return nil, fmt.Errorf("%w: encoder exited at startup: %v: %s", ErrOpenOutput, w.waitErr, stderr.String())
	case <-time.After(EncoderStartup):
	}
	log.WithFields(logrus.Fields{
		"path":  path,
		"codec": info.Codec,
		"fps":   info.FPS,
	}).Debug("encoder started")
	return w, nil
}

// checkEncoder asks ffmpeg whether it can encode codec. An empty codec
// leaves the choice to ffmpeg.
func checkEncoder(codec string) error {
	if codec == "" {
		return nil
	}
	out, err := exec.Command(FFmpegPath, "-hide_banner", "-h", "encoder="+codec).CombinedOutput()
	if err != nil {
		return fmt.Errorf("query encoder %s: %v: %s", codec, err, bytes.TrimSpace(out))
	}
	if !hasEncoder(string(out)) {
		return fmt.Errorf("no encoder available for codec %s: %s", codec, bytes.TrimSpace(out))
	}
	return nil
}

// hasEncoder reports whether ffmpeg -h encoder=X output describes at least
// one encoder ("Encoder libx264 [libx264 H.264 ...]:").
func hasEncoder(help string) bool {
	for _, line := range strings.Split(help, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Encoder ") {
			return true
		}
	}
	return false
}

func writerArgs(path string, info stream.Info) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", rawPixFmt(info.Channels),
		"-s:v", strconv.Itoa(info.Width) + "x" + strconv.Itoa(info.Height),
		"-r", formatRate(info.FPS),
		"-i", "-",
		"-an",
	}
	if info.Codec != "" {
		args = append(args, "-c:v", info.Codec)
	}
	return append(args, path)
}

// probeWritable creates (or truncates) path so permission problems surface
// before the encoder starts.
func probeWritable(path string) error {
	dir := filepath.Dir(path)
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// WriteFrame pushes one frame to the encoder.
func (w *Writer) WriteFrame(f stream.Frame) error {
	if err := f.Validate(w.info); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	select {
	case <-w.exited:
		return fmt.Errorf("%w: frame %d: encoder exited: %v: %s", ErrWrite, w.frames, w.waitErr, w.stderr.String())
	default:
	}
	if _, err := w.in.Write(f.Data); err != nil {
		return fmt.Errorf("%w: frame %d: %v: %s", ErrWrite, w.frames, err, w.stderr.String())
	}
	w.frames++
	return nil
}

// Frames returns the number of frames accepted so far.
func (w *Writer) Frames() int { return w.frames }

// Close flushes the encoder and waits for it to finish the container.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		_ = w.in.Close()
		<-w.exited
		if w.waitErr != nil {
			w.closeErr = fmt.Errorf("%w: encoder: %v: %s", ErrWrite, w.waitErr, w.stderr.String())
			return
		}
		w.log.WithFields(logrus.Fields{"path": w.path, "frames": w.frames}).Debug("encoder finished")
	})
	return w.closeErr
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf bytes.Buffer
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.n; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf.Bytes()))
}
