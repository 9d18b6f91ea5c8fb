package logger

import (
	"io"
	"os"
)

type options struct {
	output     io.Writer
	format     string
	level      string
	file       string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	compress   bool
}

func defaultOptions() options {
	return options{
		output:     os.Stdout,
		format:     "text",
		maxSizeMB:  100,
		maxBackups: 5,
		maxAgeDays: 28,
	}
}

// Option configures Init.
type Option func(*options)

// WithOutput sets the console writer.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithFormat selects "text" or "json" output.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithLevel sets the initial level.
func WithLevel(level string) Option { return func(o *options) { o.level = level } }

// WithFile additionally writes to a size-rotated file.
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		o.file = path
		if maxSizeMB > 0 {
			o.maxSizeMB = maxSizeMB
		}
		if maxBackups > 0 {
			o.maxBackups = maxBackups
		}
	}
}

// WithCompression gzips rotated files.
func WithCompression(enabled bool) Option { return func(o *options) { o.compress = enabled } }
