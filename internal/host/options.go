// SPDX-License-Identifier: MPL-2.0

package host

import (
	"time"

	"github.com/charmbracelet/log"
)

// Option configures an Engine.
type Option func(*Engine)

// WithFrameInterval sets the time between PostProcess firings. Values
// <= 0 keep DefaultFrameInterval.
func WithFrameInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxFrames stops the engine by itself after n frames. Zero runs
// until Stop.
func WithMaxFrames(n uint64) Option {
	return func(e *Engine) { e.maxFrames = n }
}

// WithErrorChannel sets the buffer size of the Err channel.
func WithErrorChannel(size int) Option {
	return func(e *Engine) { e.errCh = make(chan error, size) }
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}
