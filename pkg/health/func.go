package health

import (
	"context"
	"time"
)

// FuncChecker adapts a check function to Checker. A nil error is healthy.
type FuncChecker struct {
	Fn func(ctx context.Context) error
	// OK is the message reported when Fn succeeds (default "ok")
	OK string
}

// NewFuncChecker creates a checker from fn
func NewFuncChecker(fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{Fn: fn, OK: "ok"}
}

// Check runs the function
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.Fn(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	msg := f.OK
	if msg == "" {
		msg = "ok"
	}
	return Result{
		Healthy:   true,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (f *FuncChecker) Type() CheckType {
	return CheckTypeFunc
}
