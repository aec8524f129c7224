package recovery

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy implements a best-effort recovery strategy. Every error is
// logged and kept so callers can inspect what was repaired.
type LenientStrategy struct {
	Errors []error
	log    observability.Logger
}

func NewLenientStrategy(log observability.Logger) *LenientStrategy {
	return &LenientStrategy{log: observability.OrNop(log)}
}

func (s *LenientStrategy) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, errors.Wrapf(err, "[%s] offset %d", location.Component, location.ByteOffset))
	if s.log == nil {
		s.log = observability.NopLogger{}
	}
	s.log.Warn("recovered from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Int("object", location.ObjectNum),
		observability.Error("error", err),
	)
	return ActionFix
}
