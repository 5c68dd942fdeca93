package platform

import (
	"context"
	"io"
	"time"
)

// sliceStream serves a finite, already-fetched set of log lines.
type sliceStream struct {
	lines []string
	pos   int
}

func newSliceStream(lines []string) LogStream {
	return &sliceStream{lines: lines}
}

func (s *sliceStream) Next() (string, error) {
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}

func (s *sliceStream) Close() error { return nil }

// followStream polls a fetch function for new lines at an interval.
// It ends only when the caller cancels, either through the parent
// context or Close. Cancellation never touches deployment state.
type followStream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	// fetch returns all lines past offset.
	fetch   func(ctx context.Context, offset int) ([]string, error)
	offset  int
	pending []string
}

func newFollowStream(ctx context.Context, interval time.Duration, fetch func(ctx context.Context, offset int) ([]string, error)) LogStream {
	sctx, cancel := context.WithCancel(ctx)
	return &followStream{
		ctx:      sctx,
		cancel:   cancel,
		interval: interval,
		fetch:    fetch,
	}
}

func (f *followStream) Next() (string, error) {
	for {
		if err := f.ctx.Err(); err != nil {
			return "", err
		}
		if len(f.pending) > 0 {
			line := f.pending[0]
			f.pending = f.pending[1:]
			f.offset++
			return line, nil
		}

		lines, err := f.fetch(f.ctx, f.offset)
		if err != nil {
			return "", err
		}
		if len(lines) > 0 {
			f.pending = lines
			continue
		}

		timer := time.NewTimer(f.interval)
		select {
		case <-f.ctx.Done():
			timer.Stop()
			return "", f.ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *followStream) Close() error {
	f.cancel()
	return nil
}
