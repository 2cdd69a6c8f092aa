package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/idmcalculus/kytepdf/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy repairs what it can and records every error it absorbed.
// Files produced by browsers and scanners are often slightly off, so this is
// the default for the toolkit.
type LenientStrategy struct {
	mu     sync.Mutex
	errors []error
	logger observability.Logger
}

func NewLenientStrategy(logger observability.Logger) *LenientStrategy {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &LenientStrategy{logger: logger}
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	s.mu.Unlock()
	s.logger.Warn("recovered malformed pdf construct",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Error("error", err),
	)
	return ActionFix
}

// Errors returns the errors absorbed so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
