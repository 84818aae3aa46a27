package meeting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meeting-agent-lab/internal/logging"
	"github.com/meeting-agent-lab/internal/platform"
)

// Pool owns a capacity-bounded set of execution contexts and hands out
// session slots. Contexts launch lazily and fill to capacity before a new
// one starts: each context carries fixed overhead, and capping sessions per
// context bounds the blast radius of one context failing. The pool never
// shrinks except on Shutdown.
type Pool struct {
	runtime       platform.Runtime
	maxContexts   int
	slotsPer      int
	launchTimeout time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	contexts  []*poolContext
	launching int
}

type poolContext struct {
	ec       platform.ExecContext
	index    int
	occupied int
}

func NewPool(runtime platform.Runtime, maxContexts, slotsPerContext int, launchTimeout time.Duration) *Pool {
	p := &Pool{
		runtime:       runtime,
		maxContexts:   maxContexts,
		slotsPer:      slotsPerContext,
		launchTimeout: launchTimeout,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Slot is one acquired capacity unit. Release is safe to call more than
// once; only the first call returns the slot to the pool.
type Slot struct {
	pool     *Pool
	pc       *poolContext
	released atomic.Bool
}

// Context returns the execution context hosting this slot.
func (s *Slot) Context() platform.ExecContext { return s.pc.ec }

// Index returns the hosting context's position in creation order.
func (s *Slot) Index() int { return s.pc.index }

// Release returns the slot to the pool. Idempotent.
func (s *Slot) Release() {
	if !s.released.CompareAndSwap(false, true) {
		logging.Warnw("pool: double release of slot; ignoring", "context_index", s.pc.index)
		return
	}
	s.pool.release(s.pc)
}

// Acquire returns the first context with free capacity, launching a new one
// when all existing contexts are full and the context limit allows it. The
// launch happens outside the pool lock; a reservation counter keeps
// concurrent acquires from overshooting the context limit, and acquirers
// arriving while a launch is in flight wait for its outcome instead of being
// rejected while capacity is still possible. The wait is bounded by the
// launch timeout.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	for {
		for _, pc := range p.contexts {
			if pc.occupied < p.slotsPer {
				pc.occupied++
				p.mu.Unlock()
				logging.Debugw("pool: slot acquired", "context_index", pc.index, "occupied", pc.occupied, "capacity", p.slotsPer)
				return &Slot{pool: p, pc: pc}, nil
			}
		}
		if len(p.contexts)+p.launching < p.maxContexts {
			break
		}
		if p.launching == 0 {
			stats := p.statsLocked()
			p.mu.Unlock()
			return nil, &CapacityError{Occupied: stats.OccupiedSlots, Capacity: stats.TotalCapacity}
		}
		p.cond.Wait()
	}
	p.launching++
	p.mu.Unlock()

	launchCtx, cancel := context.WithTimeout(ctx, p.launchTimeout)
	ec, err := p.runtime.Launch(launchCtx)
	cancel()

	p.mu.Lock()
	p.launching--
	if err != nil {
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil, fmt.Errorf("launch execution context: %w", err)
	}
	pc := &poolContext{ec: ec, index: len(p.contexts), occupied: 1}
	p.contexts = append(p.contexts, pc)
	p.cond.Broadcast()
	p.mu.Unlock()

	logging.Infow("pool: execution context launched", "context_index", pc.index, "context_id", ec.ID())
	return &Slot{pool: p, pc: pc}, nil
}

func (p *Pool) release(pc *poolContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc.occupied == 0 {
		// Releasing an unoccupied context is a programming error upstream;
		// keep occupancy at zero rather than going negative.
		logging.Warnw("pool: release on empty context; defect upstream", "context_index", pc.index)
		return
	}
	pc.occupied--
	p.cond.Broadcast()
	logging.Debugw("pool: slot released", "context_index", pc.index, "occupied", pc.occupied)
}

// Stats recomputes the occupancy report on demand.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() PoolStats {
	st := PoolStats{
		ContextsLaunched: len(p.contexts),
		SlotsPerContext:  p.slotsPer,
		TotalCapacity:    p.maxContexts * p.slotsPer,
		Contexts:         make([]ContextStats, 0, len(p.contexts)),
	}
	for _, pc := range p.contexts {
		st.OccupiedSlots += pc.occupied
		st.Contexts = append(st.Contexts, ContextStats{
			Index:     pc.index,
			ContextID: pc.ec.ID(),
			Occupied:  pc.occupied,
			Capacity:  p.slotsPer,
		})
	}
	return st
}

// Shutdown tears down every context best-effort; one context's failure does
// not stop the rest. Bookkeeping is cleared regardless.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	contexts := p.contexts
	p.contexts = nil
	p.mu.Unlock()

	for _, pc := range contexts {
		if err := pc.ec.Close(ctx); err != nil {
			logging.Warnw("pool: context teardown failed", "context_index", pc.index, "err", err)
		}
	}
	logging.Infow("pool: shut down", "contexts", len(contexts))
}
