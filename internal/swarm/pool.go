package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/roach88/memoir/internal/address"
	"github.com/roach88/memoir/internal/engine"
	"github.com/roach88/memoir/internal/portal"
)

const (
	// defaultMaxWorkers caps oracle-driven sizing when no explicit cap
	// is configured.
	defaultMaxWorkers = 10

	// ramPerWorkerMB is the memory budget assumed per worker when sizing
	// from the oracle.
	ramPerWorkerMB = 500

	// defaultIdleDelay is the base pause after an empty claim attempt.
	defaultIdleDelay = 100 * time.Millisecond
)

// Config describes a worker pool.
type Config struct {
	// StorePath is the shared store every worker opens its own portal
	// over.
	StorePath string

	// Exact, when non-nil, fixes the worker count and bypasses the
	// oracle entirely.
	Exact *int

	// Max caps oracle-driven sizing. 0 means defaultMaxWorkers.
	Max int

	// Min floors oracle-driven sizing.
	Min int

	// IdleDelay is the base pause after a claim attempt that found no
	// work. A random jitter of up to the same amount is added so workers
	// do not claim in lockstep. 0 means defaultIdleDelay.
	IdleDelay time.Duration
}

// PlanSize decides how many workers to run. An exact count wins;
// otherwise the count is the smallest of the configured cap, the idle
// cores plus two, and the free memory divided by the per-worker budget,
// floored at Min. The result is never negative.
func PlanSize(cfg Config, o Oracle) int {
	var n int
	if cfg.Exact != nil {
		n = *cfg.Exact
	} else {
		max := cfg.Max
		if max <= 0 {
			max = defaultMaxWorkers
		}
		byCPU := int(o.UnusedCPUCores()) + 2
		byRAM := int(o.UnusedRAMMB() / ramPerWorkerMB)
		n = max
		if byCPU < n {
			n = byCPU
		}
		if byRAM < n {
			n = byRAM
		}
		if n < cfg.Min {
			n = cfg.Min
		}
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Pool is a running set of swarm workers.
type Pool struct {
	engine *engine.Engine
	cfg    Config
	size   int
	log    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool plans a pool over the given engine and store. The engine's
// function registry must contain every function the submitted calls
// reference; requests for unknown functions are left for other workers.
func NewPool(e *engine.Engine, cfg Config, o Oracle, log *slog.Logger) (*Pool, error) {
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("swarm config: store path must not be empty")
	}
	if o == nil {
		o = HostOracle{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = defaultIdleDelay
	}
	return &Pool{
		engine: e,
		cfg:    cfg,
		size:   PlanSize(cfg, o),
		log:    log,
	}, nil
}

// Size returns the planned worker count.
func (p *Pool) Size() int { return p.size }

// Submit records a pending execution request through the caller's
// portal and returns the result address immediately, without waiting
// for a worker to pick the call up.
func (p *Pool) Submit(ctx context.Context, prt *portal.Portal, fn *engine.Fn, kwargs engine.KwArgs) (*address.ResultAddr, error) {
	return p.engine.Submit(ctx, prt, fn, kwargs)
}

// Start launches the workers. They run until Stop is called or the
// given context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.log.Info("swarm started", "workers", p.size, "store", p.cfg.StorePath)
}

// Stop cancels the workers and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("swarm stopped")
}

// work is one worker's life: a private registry, a private portal, and
// an endless loop of random claims against the shared request pool.
func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With("worker", id)

	reg := portal.NewRegistry()
	defer func() {
		if err := reg.Reset(); err != nil {
			log.Warn("registry teardown failed", "error", err)
		}
	}()

	prt, err := portal.New(reg, portal.Config{Path: p.cfg.StorePath})
	if err != nil {
		log.Error("worker cannot open portal", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Contention avoidance: part of the claims start with a random
		// delay so workers sharing a store spread out instead of racing
		// for the same request.
		if d := p.preClaimDelay(); d > 0 {
			if !p.pause(ctx, d) {
				return
			}
		}

		r, processed, err := p.engine.ProcessRandomRequest(ctx, prt)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("request processing failed", "error", err)
		}
		if processed {
			log.Debug("request processed", "result", r.String())
			continue
		}
		if !p.idle(ctx) {
			return
		}
	}
}

// preClaimProbability is the share of claim attempts that start with a
// randomized delay.
const preClaimProbability = 0.5

// preClaimDelay returns the pause to take before the next claim
// attempt: zero most of the time, otherwise a random slice of the idle
// delay.
func (p *Pool) preClaimDelay() time.Duration {
	if rand.Float64() >= preClaimProbability {
		return 0
	}
	return rand.N(p.cfg.IdleDelay)
}

// idle pauses between empty claim attempts. The jitter keeps workers
// sharing a store from claiming in lockstep. Returns false when the
// context ended during the pause.
func (p *Pool) idle(ctx context.Context) bool {
	return p.pause(ctx, p.cfg.IdleDelay+rand.N(p.cfg.IdleDelay))
}

// pause sleeps for d unless the context ends first.
func (p *Pool) pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
