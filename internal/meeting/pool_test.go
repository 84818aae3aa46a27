package meeting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPoolFillsContextBeforeLaunching(t *testing.T) {
	rt := &fakeRuntime{}
	p := NewPool(rt, 2, 2, time.Second)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if rt.launchCount() != 1 {
		t.Fatalf("want 1 launch after filling first context, got %d", rt.launchCount())
	}
	if s1.Index() != 0 || s2.Index() != 0 {
		t.Fatalf("want both slots in context 0, got %d and %d", s1.Index(), s2.Index())
	}

	s3, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 3: %v", err)
	}
	if rt.launchCount() != 2 {
		t.Fatalf("want second context launched, got %d launches", rt.launchCount())
	}
	if s3.Index() != 1 {
		t.Fatalf("want slot in context 1, got %d", s3.Index())
	}

	s4, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 4: %v", err)
	}

	_, err = p.Acquire(ctx)
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("want CapacityError when full, got %v", err)
	}
	if capErr.Occupied != 4 || capErr.Capacity != 4 {
		t.Fatalf("want 4/4 in capacity error, got %d/%d", capErr.Occupied, capErr.Capacity)
	}

	// A released slot makes room again without a new launch.
	s2.Release()
	s5, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if s5.Index() != 0 {
		t.Fatalf("want reuse of context 0, got %d", s5.Index())
	}
	if rt.launchCount() != 2 {
		t.Fatalf("want no extra launch, got %d", rt.launchCount())
	}
	_ = s4
}

func TestPoolDoubleReleaseIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	p := NewPool(rt, 1, 2, time.Second)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s1.Release()
	s1.Release()

	st := p.Stats()
	if st.OccupiedSlots != 0 {
		t.Fatalf("want 0 occupied after double release, got %d", st.OccupiedSlots)
	}
}

func TestPoolLaunchFailureSurfaces(t *testing.T) {
	rt := &fakeRuntime{failWith: errors.New("sandbox down")}
	p := NewPool(rt, 1, 1, time.Second)

	_, err := p.Acquire(context.Background())
	if err == nil {
		t.Fatal("want launch error")
	}
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		t.Fatalf("launch failure must not masquerade as capacity: %v", err)
	}

	// The failed launch must not leak its reservation.
	rt.mu.Lock()
	rt.failWith = nil
	rt.mu.Unlock()
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after failed launch: %v", err)
	}
}

func TestPoolConcurrentAcquiresShareLaunchingContext(t *testing.T) {
	rt := &fakeRuntime{launchDelay: 50 * time.Millisecond}
	p := NewPool(rt, 1, 2, time.Second)

	// Both acquires race the single slow launch. The late one must wait for
	// the launch outcome rather than being rejected at capacity.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if rt.launchCount() != 1 {
		t.Fatalf("want a single shared launch, got %d", rt.launchCount())
	}
	if got := p.Stats().OccupiedSlots; got != 2 {
		t.Fatalf("want both slots occupied, got %d", got)
	}
}

func TestPoolStats(t *testing.T) {
	rt := &fakeRuntime{}
	p := NewPool(rt, 3, 2, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	st := p.Stats()
	if st.ContextsLaunched != 2 {
		t.Fatalf("want 2 contexts, got %d", st.ContextsLaunched)
	}
	if st.OccupiedSlots != 3 {
		t.Fatalf("want 3 occupied, got %d", st.OccupiedSlots)
	}
	if st.TotalCapacity != 6 {
		t.Fatalf("want total capacity 6, got %d", st.TotalCapacity)
	}
	if st.Contexts[0].Occupied != 2 || st.Contexts[1].Occupied != 1 {
		t.Fatalf("want occupancy [2 1], got [%d %d]", st.Contexts[0].Occupied, st.Contexts[1].Occupied)
	}
}
