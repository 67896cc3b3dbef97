package logicaltime_test

import (
	"sync"
	"testing"

	"github.com/kvswarm/kvswarm/logicaltime"
)

func TestSampleMonotonic(t *testing.T) {
	clock := logicaltime.New()

	prev := clock.Sample()

	for i := 0; i < 1000; i++ {
		next := clock.Sample()

		if next <= prev {
			t.Fatalf("expected strictly increasing samples, got %d then %d", prev, next)
		}

		prev = next
	}
}

func TestSampleConcurrent(t *testing.T) {
	clock := logicaltime.New()

	const n = 200
	values := make([]uint64, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			values[i] = clock.Sample()
		}(i)
	}

	wg.Wait()

	seen := map[uint64]bool{}

	for _, v := range values {
		if seen[v] {
			t.Fatalf("duplicate sample %d among concurrent callers", v)
		}

		seen[v] = true
	}
}

func TestMerge(t *testing.T) {
	clock := logicaltime.New()

	clock.Sample() // 1
	clock.Merge(10)

	if got := clock.Peek(); got != 10 {
		t.Fatalf("expected merge to advance clock to 10, got %d", got)
	}

	clock.Merge(5)

	if got := clock.Peek(); got != 10 {
		t.Fatalf("merge with a lower time must not roll the clock back, got %d", got)
	}

	if got := clock.Sample(); got != 11 {
		t.Fatalf("expected sample after merge to be 11, got %d", got)
	}
}
