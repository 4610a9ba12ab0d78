package syncengine

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// serial runs fn on id's lane with logging and panic recovery.
func (e *Engine) serial(op, id string, fn func() error) error {
	return e.lanes.do(id, func() error { return e.run(op, id, fn) })
}

// run logs metadata about one job (never payloads) and turns a panic into an error.
func (e *Engine) run(op, id string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic",
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("op", op),
				zap.String("id", id),
			)
			err = fmt.Errorf("%s %s: panic: %v", op, id, r)
		}
		fields := []zap.Field{
			zap.String("op", op),
			zap.String("id", id),
			zap.Duration("dur", time.Since(start)),
		}
		if err != nil {
			e.log.Warn("sync", append(fields, zap.Error(err))...)
			return
		}
		e.log.Debug("sync", fields...)
	}()
	return fn()
}
