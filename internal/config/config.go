// Package config turns command-line arguments and environment variables
// into the settings of one transcode run.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ErrUsage marks invalid command-line input.
var ErrUsage = errors.New("usage")

type Config struct {
	Input  string
	Output string

	Workers  int
	LogLevel string
	LogJSON  bool
	Report   string // CBOR run report path, empty to skip

	Preview bool
	Host    string
	Port    int
}

// Load parses args (without the program name). Environment variables
// provide defaults for the optional flags.
func Load(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet("rgb2hsv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: rgb2hsv [flags] <input> <output>\n")
		fs.PrintDefaults()
	}

	var c Config
	fs.IntVar(&c.Workers, "workers", getEnvInt("HSV_WORKERS", runtime.NumCPU()), "row workers per frame")
	fs.StringVar(&c.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.BoolVar(&c.LogJSON, "log-json", getEnv("LOG_FORMAT", "") == "json", "log as JSON")
	fs.StringVar(&c.Report, "report", getEnv("HSV_REPORT", ""), "write a CBOR run report to this file")
	fs.BoolVar(&c.Preview, "preview", false, "serve a live WHEP preview of converted frames")
	fs.StringVar(&c.Host, "host", getEnv("HOST", "127.0.0.1"), "preview bind host")
	fs.IntVar(&c.Port, "port", getEnvInt("PORT", 8000), "preview bind port")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return Config{}, fmt.Errorf("%w: expected <input> <output>, got %d argument(s)", ErrUsage, fs.NArg())
	}
	c.Input, c.Output = fs.Arg(0), fs.Arg(1)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges and path sanity.
func (c Config) Validate() error {
	if c.Input == "" || c.Output == "" {
		return fmt.Errorf("%w: input and output paths are required", ErrUsage)
	}
	if samePath(c.Input, c.Output) {
		return fmt.Errorf("%w: output would overwrite input %s", ErrUsage, c.Input)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrUsage, c.Workers)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if c.Preview && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("%w: port %d out of range", ErrUsage, c.Port)
	}
	return nil
}

// Logger builds the root logger described by the config.
func (c Config) Logger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if c.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	sa, errA := os.Stat(a)
	sb, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(sa, sb)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(v); err == nil {
			return x
		}
	}
	return def
}
