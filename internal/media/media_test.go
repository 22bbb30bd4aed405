package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgb2hsv/internal/hsv"
	"rgb2hsv/internal/stream"
)

const probeJSON = `{
  "programs": [],
  "streams": [
    {
      "codec_name": "mpeg4",
      "codec_type": "video",
      "codec_tag_string": "XVID",
      "width": 640,
      "height": 360,
      "pix_fmt": "yuv420p",
      "r_frame_rate": "30000/1001",
      "avg_frame_rate": "30000/1001",
      "duration": "10.010000",
      "nb_frames": "300"
    }
  ],
  "format": {"duration": "10.010000"}
}`

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(probeJSON))
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.Equal(t, 3, info.Channels)
	assert.Equal(t, 300, info.FrameCount)
	assert.InDelta(t, 29.97, info.FPS, 0.001)
	assert.Equal(t, "mpeg4", info.Codec)
}

func TestParseProbeFallsBackToDuration(t *testing.T) {
	info, err := parseProbe([]byte(`{
		"streams": [{"codec_name": "ffv1", "width": 8, "height": 4, "pix_fmt": "bgra",
			"r_frame_rate": "0/0", "avg_frame_rate": "25/1", "nb_frames": "N/A"}],
		"format": {"duration": "2.000000"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 4, info.Channels)
	assert.Equal(t, 25.0, info.FPS)
	assert.Equal(t, 50, info.FrameCount)
}

func TestParseProbeErrors(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `nope`,
		"no streams": `{"streams": []}`,
		"no size":    `{"streams": [{"codec_type": "video", "r_frame_rate": "25/1"}]}`,
		"no rate":    `{"streams": [{"codec_type": "video", "width": 2, "height": 2, "r_frame_rate": "0/0"}]}`,
		"audio only": `{"streams": [{"codec_type": "audio"}]}`,
	} {
		_, err := parseProbe([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 25.0, parseRate("25/1"))
	assert.Equal(t, 12.5, parseRate("12.5"))
	assert.Zero(t, parseRate("1/0"))
	assert.Zero(t, parseRate(""))
	assert.InDelta(t, 23.976, parseRate("24000/1001"), 0.001)
}

func TestChannelsFor(t *testing.T) {
	assert.Equal(t, 3, channelsFor("yuv420p"))
	assert.Equal(t, 3, channelsFor("bgr24"))
	assert.Equal(t, 4, channelsFor("yuva420p"))
	assert.Equal(t, 4, channelsFor("rgba"))
	assert.Equal(t, 4, channelsFor("bgra"))
	assert.Equal(t, "bgra", rawPixFmt(4))
	assert.Equal(t, "bgr24", rawPixFmt(3))
}

func TestWriterArgsKeepCodecAndRate(t *testing.T) {
	args := writerArgs("/tmp/out.avi", stream.Info{Width: 320, Height: 240, Channels: 3, FPS: 29.97, Codec: "mpeg4"})
	assert.Equal(t, "/tmp/out.avi", args[len(args)-1])
	assert.Contains(t, args, "320x240")
	assert.Contains(t, args, "29.97")
	assert.Contains(t, args, "mpeg4")
	assert.Contains(t, args, "bgr24")

	args = writerArgs("out.mkv", stream.Info{Width: 2, Height: 2, Channels: 4, FPS: 25})
	assert.NotContains(t, args, "-c:v")
	assert.Contains(t, args, "bgra")
}

func TestReaderArgs(t *testing.T) {
	args := readerArgs("in.avi", 3)
	assert.Contains(t, args, "in.avi")
	assert.Contains(t, args, "bgr24")
	assert.Equal(t, "-", args[len(args)-1])
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tb := newTailBuffer(4)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg\n"))
	assert.Equal(t, "efg", tb.String())
	assert.Equal(t, 4, tb.Len())
}

func TestOpenReaderMissingFile(t *testing.T) {
	_, err := OpenReader(context.Background(), filepath.Join(t.TempDir(), "missing.avi"), quietLog())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpenInput))
}

func TestOpenWriterUnwritableLocation(t *testing.T) {
	info := stream.Info{Width: 2, Height: 2, Channels: 3, FPS: 25, Codec: "rawvideo"}
	_, err := OpenWriter(filepath.Join(t.TempDir(), "no", "such", "dir", "out.nut"), info, quietLog())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpenOutput))

	_, err = OpenWriter(filepath.Join(t.TempDir(), "out.nut"), stream.Info{}, quietLog())
	assert.True(t, errors.Is(err, ErrOpenOutput))
}

func TestTranscodeRoundTrip(t *testing.T) {
	for _, bin := range []string{FFmpegPath, FFprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.nut")
	out := filepath.Join(dir, "out.nut")
	gen := exec.Command(FFmpegPath, "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=32x24:rate=10:duration=1",
		"-pix_fmt", "bgr24", "-c:v", "rawvideo", in)
	if msg, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate fixture: %v: %s", err, msg)
	}

	ctx := context.Background()
	src, err := OpenReader(ctx, in, quietLog())
	require.NoError(t, err)
	info := src.Info()
	assert.Equal(t, 32, info.Width)
	assert.Equal(t, 24, info.Height)
	assert.Equal(t, "rawvideo", info.Codec)

	dst, err := OpenWriter(out, info, quietLog())
	require.NoError(t, err)

	var originals []stream.Frame
	tee := &teeSource{Source: src, seen: &originals}
	st, err := stream.Run(ctx, tee, dst, stream.Options{Workers: 3, Variant: hsv.VariantBasic, Log: quietLog()})
	require.NoError(t, err)
	src.Stop()
	require.NoError(t, dst.Close())
	require.NotZero(t, st.FramesWritten)
	assert.Equal(t, st.FramesWritten, dst.Frames())

	back, err := OpenReader(ctx, out, quietLog())
	require.NoError(t, err)
	defer back.Stop()
	for i, orig := range originals {
		got, ok := back.Next()
		require.True(t, ok, "frame %d missing", i)
		want := orig.Clone()
		stream.ConvertFrame(want, 1, hsv.VariantBasic)
		require.Equal(t, want.Data, got.Data, "frame %d", i)
	}
	_, ok := back.Next()
	assert.False(t, ok)

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.NotZero(t, fi.Size())
}

type teeSource struct {
	stream.Source
	seen *[]stream.Frame
}

func (t *teeSource) Next() (stream.Frame, bool) {
	f, ok := t.Source.Next()
	if ok && !f.Empty() {
		*t.seen = append(*t.seen, f.Clone())
	}
	return f, ok
}

func quietLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}
