package configservice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// AutoPoller refreshes immediately on Start and then on every PollInterval.
type AutoPoller struct {
	engine *Engine
	cfg    Config

	// State management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	ready     chan struct{}
	readyOnce sync.Once

	notified atomic.Pointer[domain.ProjectConfig]
}

// NewAutoPoller creates an auto poller. Polling begins with Start.
func NewAutoPoller(engine *Engine, cfg Config) *AutoPoller {
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoPoller{
		engine: engine,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
}

// Start launches the polling goroutine. The loop stops when ctx is done
// or Close is called.
func (p *AutoPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.started {
		return nil
	}
	p.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		defer cancel()
		p.pollLoop(loopCtx)
	}()

	return nil
}

// pollLoop runs the periodic refresh in background
func (p *AutoPoller) pollLoop(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *AutoPoller) poll(ctx context.Context) (*domain.ProjectConfig, error) {
	defer p.markReady()

	res, err := p.engine.Refresh(ctx, p.engine.Cached(ctx))
	if err != nil {
		return res.Config, err
	}

	if res.Changed && p.cfg.OnConfigChanged != nil {
		// concurrent callers sharing one fetch notify once
		if p.notified.Swap(res.Config) != res.Config {
			p.cfg.OnConfigChanged(res.Config)
		}
	}

	return res.Config, nil
}

func (p *AutoPoller) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// GetConfig returns the cached config without network access. Before the
// first refresh completes it waits up to MaxInitWait.
func (p *AutoPoller) GetConfig(ctx context.Context) (*domain.ProjectConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg := p.engine.Cached(ctx); !cfg.IsEmpty() {
		return cfg, nil
	}

	p.mu.Lock()
	waiting := p.started && !p.closed
	p.mu.Unlock()

	if waiting && p.cfg.MaxInitWait > 0 {
		timer := time.NewTimer(p.cfg.MaxInitWait)
		defer timer.Stop()

		select {
		case <-p.ready:
		case <-timer.C:
			p.engine.logger.Warnf("no config after waiting %s for the first refresh", p.cfg.MaxInitWait)
		case <-p.ctx.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return p.engine.Cached(ctx), nil
}

// RefreshConfig forces an out-of-band refresh. After Close it returns
// the cached config instead.
func (p *AutoPoller) RefreshConfig(ctx context.Context) (*domain.ProjectConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.engine.Cached(ctx), nil
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	cfg, err := p.poll(ctx)
	if err != nil && p.ctx.Err() != nil {
		// closed while refreshing
		return p.engine.Cached(context.WithoutCancel(ctx)), nil
	}
	return cfg, err
}

// Close cancels the polling loop and waits for in-flight refreshes
func (p *AutoPoller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	err := p.engine.Close()
	p.wg.Wait()
	return err
}
