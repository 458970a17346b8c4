package ai

import (
	"github.com/CCAFRICA/spm-platform/internal/config"
)

// Closer releases background resources held by a service stack.
type Closer interface {
	Close()
}

type stack struct {
	Service
	closers []Closer
}

func (s *stack) Close() {
	for _, c := range s.closers {
		c.Close()
	}
}

// NewFromSettings builds command → rate limit → cache. It returns a nil
// Service when no command is configured.
func NewFromSettings(settings config.AISettings) (Service, Closer, error) {
	if settings.Command == "" {
		return nil, nil, nil
	}
	cmd, err := NewCommandService(settings.Command, settings.Args, settings.Timeout)
	if err != nil {
		return nil, nil, err
	}
	limited := NewRateLimitedService(cmd, settings.RequestsPerMinute)
	cached := NewCachedService(limited, settings.CacheTTL)
	s := &stack{Service: cached, closers: []Closer{cached, limited}}
	return s, s, nil
}
