package ucp

import (
	"testing"
	"time"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

type testPeers struct {
	fabric     *transport.Fabric
	ctx1, ctx2 *Context
	w1, w2     *Worker
	ep         *Endpoint
}

func mustContext(t *testing.T, fabric *transport.Fabric, params *Params, opts ...ContextOption) *Context {
	t.Helper()
	opts = append([]ContextOption{WithFabric(fabric)}, opts...)
	ctx, err := NewContext(params, opts...)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	return ctx
}

func mustWorker(t *testing.T, ctx *Context, params *WorkerParams) *Worker {
	t.Helper()
	w, err := ctx.NewWorker(params)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	return w
}

func connect(t *testing.T, from, to *Worker, params *EndpointParams) *Endpoint {
	t.Helper()
	addr, err := to.Address()
	if err != nil {
		t.Fatalf("Address failed: %v", err)
	}
	if params == nil {
		params = NewEndpointParams()
	}
	ep, err := from.NewEndpoint(params.SetPeerAddress(addr))
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	return ep
}

// setupPeers creates two contexts on a private fabric, one worker each and
// an endpoint from the first worker to the second.
func setupPeers(t *testing.T, params func() *Params, opts ...ContextOption) *testPeers {
	t.Helper()
	p := &testPeers{fabric: transport.NewFabric()}
	p.ctx1 = mustContext(t, p.fabric, params(), opts...)
	p.ctx2 = mustContext(t, p.fabric, params(), opts...)
	p.w1 = mustWorker(t, p.ctx1, nil)
	p.w2 = mustWorker(t, p.ctx2, nil)
	p.ep = connect(t, p.w1, p.w2, nil)
	t.Cleanup(func() {
		_ = p.w1.Close()
		_ = p.w2.Close()
		_ = p.ctx1.Close()
		_ = p.ctx2.Close()
	})
	return p
}

func rmaParams() *Params {
	return NewParams().RequestRMAFeature().RequestTagFeature().
		RequestAtomic32BitFeature().RequestAtomic64BitFeature()
}

// progressUntil drives the workers until cond holds.
func progressUntil(t *testing.T, cond func() bool, workers ...*Worker) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached before deadline")
		}
		for _, w := range workers {
			w.Progress()
		}
	}
}

func waitRequest(t *testing.T, req *Request, workers ...*Worker) {
	t.Helper()
	progressUntil(t, req.IsCompleted, workers...)
}
