package progress

import (
	"context"
	"runtime"

	"github.com/rocketbitz/ucx-go/ucp"
)

// Await blocks until req reaches a terminal state or ctx is done. The request
// must be progressed by someone else, typically a Thread.
func Await(ctx context.Context, req *ucp.Request) error {
	if req == nil {
		return nil
	}
	ctx = ensureContext(ctx)
	select {
	case <-req.Done():
		return req.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drive progresses w on the calling goroutine until req completes or ctx is
// done. It is the bounded form of the usual drain loop and fails once w is
// closed with req still pending.
func Drive(ctx context.Context, w *ucp.Worker, req *ucp.Request) error {
	if req == nil {
		return nil
	}
	ctx = ensureContext(ctx)
	for !req.IsCompleted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.ProgressErr()
		if err != nil {
			if req.IsCompleted() {
				break
			}
			return err
		}
		if n == 0 {
			runtime.Gosched()
		}
	}
	return req.Err()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
