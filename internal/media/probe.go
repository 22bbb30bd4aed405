// Package media is the boundary to container and codec handling. Decoding
// and encoding are delegated to the ffmpeg and ffprobe executables; frames
// cross the boundary as packed BGR24 or BGRA.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"rgb2hsv/internal/stream"
)

// Binaries used to talk to the media toolchain. Tests may point them at
// other paths.
var (
	FFmpegPath  = "ffmpeg"
	FFprobePath = "ffprobe"
)

var (
	// ErrOpenInput reports an input that cannot be read or decoded.
	ErrOpenInput = errors.New("cannot open input video")
	// ErrOpenOutput reports an output that cannot be opened for writing.
	ErrOpenOutput = errors.New("cannot open output video for write")
	// ErrWrite reports a frame the encoder did not accept.
	ErrWrite = errors.New("cannot write output frame")
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	CodecTag     string `json:"codec_tag_string"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

// Probe reads stream metadata for the first video stream of path.
func Probe(ctx context.Context, path string) (stream.Info, error) {
	cmd := exec.CommandContext(ctx, FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,codec_name,codec_tag_string,width,height,pix_fmt,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-print_format", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return stream.Info{}, fmt.Errorf("%w: ffprobe %s: %v: %s", ErrOpenInput, path, err, strings.TrimSpace(stderr.String()))
	}
	info, err := parseProbe(out)
	if err != nil {
		return stream.Info{}, fmt.Errorf("%w: %s: %v", ErrOpenInput, path, err)
	}
	return info, nil
}

func parseProbe(data []byte) (stream.Info, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return stream.Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var vs *probeStream
	for i := range po.Streams {
		if po.Streams[i].CodecType == "" || po.Streams[i].CodecType == "video" {
			vs = &po.Streams[i]
			break
		}
	}
	if vs == nil {
		return stream.Info{}, errors.New("no video stream")
	}
	if vs.Width <= 0 || vs.Height <= 0 {
		return stream.Info{}, fmt.Errorf("invalid frame size %dx%d", vs.Width, vs.Height)
	}

	fps := parseRate(vs.RFrameRate)
	if fps <= 0 {
		fps = parseRate(vs.AvgFrameRate)
	}
	if fps <= 0 {
		return stream.Info{}, fmt.Errorf("unknown frame rate %q", vs.RFrameRate)
	}

	count, _ := strconv.Atoi(vs.NbFrames)
	if count <= 0 {
		dur := parseFloat(vs.Duration)
		if dur <= 0 {
			dur = parseFloat(po.Format.Duration)
		}
		if dur > 0 {
			count = int(math.Round(dur * fps))
		}
	}

	return stream.Info{
		Width:      vs.Width,
		Height:     vs.Height,
		Channels:   channelsFor(vs.PixFmt),
		FrameCount: count,
		FPS:        fps,
		Codec:      vs.CodecName,
	}, nil
}

// parseRate accepts "30000/1001", "25/1" or "25".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n := parseFloat(num)
	if !found {
		return n
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// channelsFor keeps an alpha plane when the source has one.
func channelsFor(pixFmt string) int {
	switch {
	case strings.HasPrefix(pixFmt, "yuva"),
		strings.HasPrefix(pixFmt, "gbrap"),
		strings.HasPrefix(pixFmt, "ya"),
		strings.Contains(pixFmt, "rgba"),
		strings.Contains(pixFmt, "bgra"),
		strings.Contains(pixFmt, "argb"),
		strings.Contains(pixFmt, "abgr"):
		return 4
	default:
		return 3
	}
}

// rawPixFmt is the ffmpeg rawvideo format for a channel count.
func rawPixFmt(channels int) string {
	if channels == 4 {
		return "bgra"
	}
	return "bgr24"
}

func formatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
