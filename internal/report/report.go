// Package report records the outcome of one transcode run as a CBOR
// document next to the output video.
package report

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rgb2hsv/internal/stream"
)

type Report struct {
	RunID          uuid.UUID `cbor:"run_id"`
	Version        string    `cbor:"version"`
	Input          string    `cbor:"input"`
	Output         string    `cbor:"output"`
	Variant        string    `cbor:"variant"`
	Workers        int       `cbor:"workers"`
	Width          int       `cbor:"width"`
	Height         int       `cbor:"height"`
	Channels       int       `cbor:"channels"`
	FPS            float64   `cbor:"fps"`
	Codec          string    `cbor:"codec"`
	FramesDeclared int       `cbor:"frames_declared"`
	FramesWritten  int       `cbor:"frames_written"`
	Pixels         uint64    `cbor:"pixels"`
	ElapsedMs      int64     `cbor:"elapsed_ms"`
	StartedAt      time.Time `cbor:"started_at"`
	Interrupted    bool      `cbor:"interrupted,omitempty"`
}

// New fills a report from stream metadata and run statistics.
func New(runID uuid.UUID, info stream.Info, st stream.Stats) Report {
	return Report{
		RunID:          runID,
		Width:          info.Width,
		Height:         info.Height,
		Channels:       info.Channels,
		FPS:            info.FPS,
		Codec:          info.Codec,
		FramesDeclared: st.FramesDeclared,
		FramesWritten:  st.FramesWritten,
		Pixels:         st.Pixels,
		ElapsedMs:      st.Elapsed.Milliseconds(),
		StartedAt:      st.Started.UTC(),
	}
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Marshal encodes r with deterministic CBOR.
func (r Report) Marshal() ([]byte, error) {
	return encMode.Marshal(r)
}

// Fields renders r for a single summary log line.
func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"run_id":         r.RunID.String(),
		"variant":        r.Variant,
		"workers":        r.Workers,
		"frames_written": r.FramesWritten,
		"pixels":         r.Pixels,
		"elapsed_ms":     r.ElapsedMs,
	}
}

// Write stores r at path.
func Write(path string, r Report) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}
