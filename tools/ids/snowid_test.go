package ids

import (
	"sync"
	"testing"
)

func TestGeneratorUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator(7)
	const workers, perWorker = 8, 2000

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}

func TestGeneratorMonotonicAndNode(t *testing.T) {
	g := NewGenerator(42)
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("ids must increase: %d after %d", id, prev)
		}
		if NodeOf(id) != 42 {
			t.Fatalf("node = %d, want 42", NodeOf(id))
		}
		prev = id
	}
}

func TestNewGeneratorClampsNode(t *testing.T) {
	g := NewGenerator(5000)
	if NodeOf(g.Next()) != 1 {
		t.Errorf("out of range node should fall back to 1")
	}
}
