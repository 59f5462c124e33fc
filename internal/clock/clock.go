package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so ledger timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// New returns the system clock in UTC.
func New() Clock {
	return realClock{}
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
