package netbuf

import (
	"log/slog"

	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/pkg/retry"
)

type options struct {
	logger *slog.Logger
	retry  retry.Config
	prefix string
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		retry:  errors.DefaultRetryConfig().ToRetryConfig(),
		prefix: DefaultSubjectPrefix,
	}
}

// Option configures senders, receivers and the factory.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetry sets the retry policy for frame publishes.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithSubjectPrefix sets the prefix of generated edge subjects.
func WithSubjectPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
