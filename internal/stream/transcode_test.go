package stream

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgb2hsv/internal/hsv"
)

// sliceSource replays frames; a zero Frame entry acts as an empty frame.
type sliceSource struct {
	info    Info
	frames  []Frame
	pos     int
	stopped bool
}

func (s *sliceSource) Info() Info { return s.info }

func (s *sliceSource) Next() (Frame, bool) {
	if s.pos >= len(s.frames) {
		return Frame{}, false
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true
}

func (s *sliceSource) Stop() { s.stopped = true }

type sliceSink struct {
	frames  []Frame
	failAt  int // 1-based; 0 never fails
	onWrite func()
}

func (s *sliceSink) WriteFrame(f Frame) error {
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("disk full")
	}
	s.frames = append(s.frames, f)
	if s.onWrite != nil {
		s.onWrite()
	}
	return nil
}

func (s *sliceSink) Close() error { return nil }

func randomFrame(rng *rand.Rand, rows, cols, channels int) Frame {
	f := NewFrame(rows, cols, channels)
	rng.Read(f.Data)
	return f
}

func quietLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func kernelFor(v hsv.Variant) func(r, g, b uint8) (uint8, uint8, uint8) {
	switch v {
	case hsv.VariantShort:
		return hsv.RGBToHSVShort
	case hsv.VariantFloat:
		return hsv.Float8
	case hsv.VariantClosed:
		return hsv.Closed8
	default:
		return hsv.RGBToHSV
	}
}

func TestConvertFrameMatchesKernelPerPixel(t *testing.T) {
	// 2x2 BGRA frame: blue, green, red, white with distinct alpha bytes.
	src := Frame{Rows: 2, Cols: 2, Channels: 4, Data: []byte{
		255, 0, 0, 10, 0, 255, 0, 20,
		0, 0, 255, 30, 255, 255, 255, 40,
	}}
	for _, v := range hsv.Variants {
		t.Run(v.String(), func(t *testing.T) {
			out := src.Clone()
			ConvertFrame(out, 2, v)
			kernel := kernelFor(v)
			for j := 0; j < src.Rows; j++ {
				for i := 0; i < src.Cols; i++ {
					idx := src.Index(j, i)
					h, s, val := kernel(src.Data[idx+2], src.Data[idx+1], src.Data[idx])
					assert.Equal(t, []byte{h, s, val}, out.Data[idx:idx+3], "pixel (%d,%d)", j, i)
					assert.Equal(t, src.Data[idx+3], out.Data[idx+3], "alpha (%d,%d)", j, i)
				}
			}
		})
	}
}

func TestConvertFrameBasicValues(t *testing.T) {
	f := Frame{Rows: 2, Cols: 2, Channels: 3, Data: []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 255, 255, 255,
	}}
	ConvertFrame(f, 4, hsv.VariantBasic)
	assert.Equal(t, []byte{
		171, 255, 255, 85, 255, 255,
		0, 255, 255, 0, 0, 255,
	}, f.Data)
}

func TestConvertFrameWorkerCountDoesNotChangeOutput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := randomFrame(rng, 37, 53, 3)
	for _, v := range hsv.Variants {
		single := src.Clone()
		ConvertFrame(single, 1, v)
		for _, workers := range []int{2, 3, 8, 64} {
			many := src.Clone()
			ConvertFrame(many, workers, v)
			require.Equal(t, single.Data, many.Data, "variant %s workers %d", v, workers)
		}
	}
}

func TestPartitionRowsIsDisjointAndCovering(t *testing.T) {
	for _, tc := range []struct{ rows, workers int }{
		{1, 1}, {1, 8}, {10, 3}, {720, 16}, {7, 7}, {5, 0},
	} {
		ranges := PartitionRows(tc.rows, tc.workers)
		require.NotEmpty(t, ranges)
		next := 0
		for _, rr := range ranges {
			require.Equal(t, next, rr.Lo, "rows=%d workers=%d", tc.rows, tc.workers)
			require.Greater(t, rr.Hi, rr.Lo)
			next = rr.Hi
		}
		assert.Equal(t, tc.rows, next)
		if tc.workers > 0 {
			assert.LessOrEqual(t, len(ranges), tc.workers)
		}
	}
	assert.Nil(t, PartitionRows(0, 4))
}

func TestRunEmitsEveryFrameInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	info := Info{Width: 16, Height: 9, Channels: 3, FrameCount: 5, FPS: 25}
	src := &sliceSource{info: info}
	for i := 0; i < 5; i++ {
		f := randomFrame(rng, 9, 16, 3)
		f.Data[0] = byte(i) // tag for ordering
		src.frames = append(src.frames, f)
	}
	dst := &sliceSink{}

	st, err := Run(context.Background(), src, dst, Options{Workers: 4, Variant: hsv.VariantBasic, Log: quietLog()})
	require.NoError(t, err)
	assert.Equal(t, 5, st.FramesRead)
	assert.Equal(t, 5, st.FramesWritten)
	assert.Equal(t, uint64(5*16*9), st.Pixels)
	require.Len(t, dst.frames, 5)

	for i, got := range dst.frames {
		want := src.frames[i].Clone()
		ConvertFrame(want, 1, hsv.VariantBasic)
		assert.Equal(t, want.Data, got.Data, "frame %d", i)
	}
	// Source frames are left untouched.
	for i, f := range src.frames {
		assert.Equal(t, byte(i), f.Data[0])
	}
}

func TestRunStopsAtEmptyFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	info := Info{Width: 4, Height: 4, Channels: 3, FrameCount: 10}
	src := &sliceSource{info: info, frames: []Frame{
		randomFrame(rng, 4, 4, 3),
		randomFrame(rng, 4, 4, 3),
		{},
		randomFrame(rng, 4, 4, 3),
	}}
	dst := &sliceSink{}

	st, err := Run(context.Background(), src, dst, Options{Workers: 2, Log: quietLog()})
	require.NoError(t, err)
	assert.Equal(t, 2, st.FramesWritten)
	assert.Len(t, dst.frames, 2)
}

func TestRunHonoursDeclaredFrameCount(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	info := Info{Width: 4, Height: 2, Channels: 3, FrameCount: 2}
	src := &sliceSource{info: info}
	for i := 0; i < 4; i++ {
		src.frames = append(src.frames, randomFrame(rng, 2, 4, 3))
	}
	dst := &sliceSink{}

	_, err := Run(context.Background(), src, dst, Options{Log: quietLog()})
	require.NoError(t, err)
	assert.Len(t, dst.frames, 2)
	assert.Equal(t, 2, src.pos)
}

func TestRunUnknownFrameCountReadsToEnd(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	src := &sliceSource{info: Info{Width: 3, Height: 3, Channels: 3}}
	for i := 0; i < 3; i++ {
		src.frames = append(src.frames, randomFrame(rng, 3, 3, 3))
	}
	dst := &sliceSink{}

	st, err := Run(context.Background(), src, dst, Options{Log: quietLog()})
	require.NoError(t, err)
	assert.Equal(t, 3, st.FramesWritten)
}

func TestRunWriteFailureAborts(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	info := Info{Width: 2, Height: 2, Channels: 3, FrameCount: 4}
	src := &sliceSource{info: info}
	for i := 0; i < 4; i++ {
		src.frames = append(src.frames, randomFrame(rng, 2, 2, 3))
	}
	dst := &sliceSink{failAt: 3}

	st, err := Run(context.Background(), src, dst, Options{Log: quietLog()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 2, st.FramesWritten)
	assert.Equal(t, 3, src.pos)
}

func TestRunRejectsMismatchedFrame(t *testing.T) {
	info := Info{Width: 4, Height: 4, Channels: 3, FrameCount: 1}
	src := &sliceSource{info: info, frames: []Frame{NewFrame(2, 4, 3)}}
	_, err := Run(context.Background(), src, &sliceSink{}, Options{Log: quietLog()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream is 4x4")
}

func TestRunStopsWhenCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	info := Info{Width: 2, Height: 2, Channels: 3, FrameCount: 10}
	src := &sliceSource{info: info}
	for i := 0; i < 10; i++ {
		src.frames = append(src.frames, randomFrame(rng, 2, 2, 3))
	}
	ctx, cancel := context.WithCancel(context.Background())
	dst := &sliceSink{}
	dst.onWrite = func() {
		if len(dst.frames) == 3 {
			cancel()
		}
	}

	logger, hook := test.NewNullLogger()
	st, err := Run(ctx, src, dst, Options{Log: logrus.NewEntry(logger)})
	require.NoError(t, err)
	assert.Equal(t, 3, st.FramesWritten)
	assert.Equal(t, 3, src.pos)

	var interrupted *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "transcode interrupted" {
			interrupted = e
		}
	}
	require.NotNil(t, interrupted)
	assert.Equal(t, logrus.WarnLevel, interrupted.Level)
	assert.Equal(t, 3, interrupted.Data["frames_written"])
	assert.NotEmpty(t, interrupted.Data["elapsed"])
}

func TestRunFeedsTapAndCounters(t *testing.T) {
	ResetCounters()
	rng := rand.New(rand.NewSource(8))
	info := Info{Width: 4, Height: 3, Channels: 3, FrameCount: 2}
	src := &sliceSource{info: info, frames: []Frame{randomFrame(rng, 3, 4, 3), randomFrame(rng, 3, 4, 3)}}
	dst := &sliceSink{}
	tap := NewFrameTap(4, 3)
	seen := 0

	_, err := Run(context.Background(), src, dst, Options{
		Log: quietLog(),
		OnFrame: func(f Frame) {
			seen++
			tap.Offer(f)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	got, ok := tap.Next()
	require.True(t, ok)
	want := make([]byte, i420Size(4, 2))
	frameToI420(dst.frames[1], 4, 2, want)
	assert.Equal(t, want, got)

	c := GetCounters()
	assert.Equal(t, uint64(2), c["frames_in"])
	assert.Equal(t, uint64(2), c["frames_written"])
	assert.Equal(t, uint64(24), c["pixels_converted"])
}

func TestStatsFPS(t *testing.T) {
	assert.Zero(t, Stats{FramesWritten: 10}.FPS())
}
