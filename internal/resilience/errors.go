package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ThrottleError зависимость попросила подождать (429 / ThrottlingException).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// PermanentError повтор бессмыслен (невалидный запрос, отказ в доступе).
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string { return e.Cause.Error() }

func (e *PermanentError) Unwrap() error { return e.Cause }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// IsThrottled зависимость или локальный лимитер попросили подождать.
func IsThrottled(err error) bool {
	var t *ThrottleError
	return errors.As(err, &t) || errors.Is(err, ErrRateLimited)
}

// IsCircuitOpen вызов отсечен предохранителем и до зависимости не дошел.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
