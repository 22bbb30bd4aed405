package stream

import "fmt"

// Frame is one packed, interleaved picture. Pixel (row j, col i) starts at
// byte Channels*(Cols*j+i); the first three channels are B, G, R on input
// and H, S, V after conversion. Channels past the third pass through.
type Frame struct {
	Rows, Cols int
	Channels   int
	Data       []byte
}

// Info describes a stream. It is fixed when the stream is opened.
type Info struct {
	Width      int
	Height     int
	Channels   int
	FrameCount int // <= 0 when the container does not declare it
	FPS        float64
	Codec      string
}

// Source yields decoded frames in stream order.
type Source interface {
	Info() Info
	// Next returns the next frame and false once the source is exhausted.
	// An empty frame is treated the same as false.
	Next() (Frame, bool)
	Stop()
}

// Sink accepts converted frames in stream order.
type Sink interface {
	WriteFrame(Frame) error
	Close() error
}

// NewFrame allocates a zeroed frame.
func NewFrame(rows, cols, channels int) Frame {
	return Frame{Rows: rows, Cols: cols, Channels: channels, Data: make([]byte, rows*cols*channels)}
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Rows <= 0 || f.Cols <= 0 || len(f.Data) == 0
}

// Clone returns a deep copy backed by a fresh buffer.
func (f Frame) Clone() Frame {
	out := f
	out.Data = make([]byte, len(f.Data))
	copy(out.Data, f.Data)
	return out
}

// Stride is the byte length of one row.
func (f Frame) Stride() int { return f.Cols * f.Channels }

// Index returns the offset of the first channel of pixel (row, col).
func (f Frame) Index(row, col int) int { return f.Channels * (f.Cols*row + col) }

// Validate checks the frame against the stream geometry.
func (f Frame) Validate(info Info) error {
	if f.Channels < 3 {
		return fmt.Errorf("frame has %d channels, need at least 3", f.Channels)
	}
	if info.Width > 0 && info.Height > 0 && (f.Cols != info.Width || f.Rows != info.Height) {
		return fmt.Errorf("frame is %dx%d, stream is %dx%d", f.Cols, f.Rows, info.Width, info.Height)
	}
	if info.Channels > 0 && f.Channels != info.Channels {
		return fmt.Errorf("frame has %d channels, stream has %d", f.Channels, info.Channels)
	}
	if want := f.Rows * f.Cols * f.Channels; len(f.Data) != want {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(f.Data), want)
	}
	return nil
}
