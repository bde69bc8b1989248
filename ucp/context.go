// Package ucp provides an asynchronous communication runtime built around
// explicitly progressed workers. A Context selects the feature set, Workers
// own the progress engine, Endpoints connect workers, and MemoryRegions
// expose buffers to peers through packed remote keys.
package ucp

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// DefaultRendezvousThreshold is the tagged message size above which payloads
// are transferred in place instead of being copied at send time.
const DefaultRendezvousThreshold = 8 << 10

var handleSeq atomic.Uint64

func nextHandle() uint64 {
	return handleSeq.Add(1)
}

// ContextOption customises a Context.
type ContextOption func(*contextOptions)

type contextOptions struct {
	logger        *zap.Logger
	fabric        *transport.Fabric
	rndvThreshold int
}

// WithLogger routes runtime logs to l.
func WithLogger(l *zap.Logger) ContextOption {
	return func(o *contextOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFabric attaches the context to an isolated fabric. Workers on
// different fabrics cannot reach each other.
func WithFabric(f *transport.Fabric) ContextOption {
	return func(o *contextOptions) {
		if f != nil {
			o.fabric = f
		}
	}
}

// WithRendezvousThreshold overrides DefaultRendezvousThreshold.
func WithRendezvousThreshold(n int) ContextOption {
	return func(o *contextOptions) {
		if n >= 0 {
			o.rndvThreshold = n
		}
	}
}

// Context is the root object of the runtime. Its feature set is fixed at
// creation and shared by every worker spawned from it.
type Context struct {
	handle        atomic.Uint64
	features      Feature
	name          string
	estimatedEPs  int
	tagSenderMask uint64
	rndvThreshold int
	log           *zap.Logger
	fabric        *transport.Fabric
	domain        *transport.Domain

	mu      sync.Mutex
	workers map[*Worker]struct{}
	regions map[*MemoryRegion]struct{}
}

// NewContext creates a context with the features requested in params.
func NewContext(params *Params, opts ...ContextOption) (*Context, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	o := contextOptions{
		logger:        zap.NewNop(),
		fabric:        transport.Default(),
		rndvThreshold: DefaultRendezvousThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Context{
		features:      params.features,
		name:          params.name,
		estimatedEPs:  params.estimatedEPs,
		tagSenderMask: params.tagSenderMask,
		rndvThreshold: o.rndvThreshold,
		fabric:        o.fabric,
		workers:       make(map[*Worker]struct{}),
		regions:       make(map[*MemoryRegion]struct{}),
	}
	if c.features&(FeatureRMA|FeatureAMO32|FeatureAMO64) != 0 {
		c.domain = c.fabric.OpenDomain()
	}
	h := nextHandle()
	if c.name == "" {
		c.name = fmt.Sprintf("context-%d", h)
	}
	c.log = o.logger.With(zap.String("context", c.name))
	c.handle.Store(h)
	c.log.Debug("context created", zap.Stringer("features", c.features))
	return c, nil
}

// Handle returns a non-zero identifier while the context is open.
func (c *Context) Handle() uint64 {
	if c == nil {
		return 0
	}
	return c.handle.Load()
}

// Features returns the feature set negotiated at creation.
func (c *Context) Features() Feature {
	return c.features
}

// Name returns the context name.
func (c *Context) Name() string {
	return c.name
}

// TagSenderMask returns the tag bits reserved for sender identification.
func (c *Context) TagSenderMask() uint64 {
	return c.tagSenderMask
}

// Logger returns the logger the context was created with.
func (c *Context) Logger() *zap.Logger {
	return c.log
}

func (c *Context) open() error {
	if c == nil || c.handle.Load() == 0 {
		return ErrInvalidHandle{"context"}
	}
	return nil
}

// NewWorker creates a progress engine bound to the context.
func (c *Context) NewWorker(params *WorkerParams) (*Worker, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	w, err := newWorker(c, params)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.handle.Load() == 0 {
		c.mu.Unlock()
		w.teardown()
		return nil, ErrInvalidHandle{"context"}
	}
	c.workers[w] = struct{}{}
	c.mu.Unlock()
	return w, nil
}

func (c *Context) removeWorker(w *Worker) {
	c.mu.Lock()
	delete(c.workers, w)
	c.mu.Unlock()
}

// Close releases the context. Every worker must be closed first; memory
// regions still registered are deregistered implicitly.
func (c *Context) Close() error {
	if c == nil {
		return ErrInvalidHandle{"context"}
	}
	c.mu.Lock()
	if c.handle.Load() == 0 {
		c.mu.Unlock()
		return ErrInvalidHandle{"context"}
	}
	if n := len(c.workers); n > 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d workers still open", ErrInvalidState, n)
	}
	c.handle.Store(0)
	regions := make([]*MemoryRegion, 0, len(c.regions))
	for m := range c.regions {
		regions = append(regions, m)
	}
	c.regions = make(map[*MemoryRegion]struct{})
	c.mu.Unlock()

	for _, m := range regions {
		m.released.Store(true)
	}
	if c.domain != nil {
		c.domain.Close()
	}
	if len(regions) > 0 {
		c.log.Debug("context closed with registered memory", zap.Int("regions", len(regions)))
	} else {
		c.log.Debug("context closed")
	}
	return nil
}
