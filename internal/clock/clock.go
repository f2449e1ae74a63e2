package clock

import (
	"context"
	"time"
)

// Clock абстрагирует время: сервисам нельзя напрямую звать time.Now и
// time.Sleep, иначе тесты на истечение скидок и backoff станут реальными
// ожиданиями.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
