package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "eventbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

const (
	msgHandlerFailed = "⚠️ Something went wrong. Please try again later."
	msgHandlerSlow   = "⌛ That took too long. Please try again."
)

// reqLogger prefers the request-scoped logger carrying rid, chat and command.
func reqLogger(log logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return log
}

// commandFields describes the command for logs. event_id is set when the
// first argument is an event id. The request logger already carries the
// command name.
func commandFields(req *Request) []logx.Field {
	if req == nil {
		return nil
	}
	var fields []logx.Field
	if req.Logger.IsZero() {
		fields = append(fields, logx.String("command", req.Command))
	}
	if id, ok := EventID(req.Args); ok {
		fields = append(fields, logx.Int("event_id", id))
	} else if len(req.Args) > 0 {
		fields = append(fields, logx.Int("args", len(req.Args)))
	}
	return fields
}

// Recover turns a handler panic into an error and apologizes to the user.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLogger(log, req).Error("command handler panicked",
					append(commandFields(req),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)...,
				)
				err = fmt.Errorf("panic: %v", r)
				if req != nil && req.Adapter != nil {
					_ = req.Reply(context.WithoutCancel(ctx), msgHandlerFailed)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Log records every handled command. Slow or failed commands are logged at
// info or warn, the rest at debug.
func Log(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			logger := reqLogger(log, req)
			fields := append(commandFields(req), logx.Duration("took", took))
			switch {
			case err != nil:
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= 750*time.Millisecond:
				logger.Info("command handled slowly", fields...)
			default:
				logger.Debug("command handled", fields...)
			}
			return err
		}
	}
}

// Timeout bounds a handler by d and tells the user when it ran out of time.
// d <= 0 disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && req != nil && req.Adapter != nil {
				_ = req.Reply(ctx, msgHandlerSlow)
			}
			return err
		}
	}
}
