package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/nugget/hermitd/internal/llm"
)

type failingProvider struct{ err error }

func (p failingProvider) Generator() (llm.Generator, error) { return nil, p.err }

func newTestManager(t *testing.T, capacity int) *Manager {
	t.Helper()
	return NewManager(llm.NewSingletonProvider(&fakeGenerator{reply: "ok"}), capacity, Options{}, nil)
}

func checkAccounting(t *testing.T, m *Manager) {
	t.Helper()
	if m.Len()+m.Free() != m.Capacity() {
		t.Errorf("Len %d + Free %d != Capacity %d", m.Len(), m.Free(), m.Capacity())
	}
}

func TestManager_CreateSequentialIDs(t *testing.T) {
	m := newTestManager(t, 4)
	for want := range 4 {
		id, err := m.Create("max")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id != want {
			t.Errorf("id = %d, want %d", id, want)
		}
	}
	checkAccounting(t, m)
}

func TestManager_CapacityExceeded(t *testing.T) {
	m := newTestManager(t, 2)
	for range 2 {
		if _, err := m.Create("max"); err != nil {
			t.Fatal(err)
		}
	}

	_, err := m.Create("max")
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d after failed create", m.Len())
	}
	checkAccounting(t, m)
}

func TestManager_FIFOReuse(t *testing.T) {
	m := newTestManager(t, 3)
	for range 3 {
		_, _ = m.Create("max")
	}

	m.Destroy(1)
	m.Destroy(0)

	// 1 was freed first, so it is reused first.
	if id, _ := m.Create("max"); id != 1 {
		t.Errorf("first reuse = %d, want 1", id)
	}
	if id, _ := m.Create("max"); id != 0 {
		t.Errorf("second reuse = %d, want 0", id)
	}
	checkAccounting(t, m)
}

func TestManager_DestroyNotLive(t *testing.T) {
	m := newTestManager(t, 2)
	id, _ := m.Create("max")

	if !m.Destroy(id) {
		t.Error("Destroy of live id returned false")
	}
	if m.Destroy(id) {
		t.Error("second Destroy returned true")
	}
	if m.Destroy(99) {
		t.Error("Destroy of unknown id returned true")
	}
	if m.Free() != 2 {
		t.Errorf("Free = %d, pool grew on no-op destroy", m.Free())
	}
	checkAccounting(t, m)
}

func TestManager_Lookup(t *testing.T) {
	m := newTestManager(t, 2)
	id, _ := m.Create("alice")

	s, ok := m.Lookup(id)
	if !ok || s.ID != id || s.User != "alice" {
		t.Fatalf("Lookup(%d) = %+v, %v", id, s, ok)
	}
	if _, ok := m.Lookup(1); ok {
		t.Error("Lookup of free id succeeded")
	}
	if _, ok := m.Lookup(-1); ok {
		t.Error("Lookup of negative id succeeded")
	}

	m.Destroy(id)
	if _, ok := m.Lookup(id); ok {
		t.Error("Lookup after Destroy succeeded")
	}
}

func TestManager_ProviderFailureRestoresPool(t *testing.T) {
	m := NewManager(failingProvider{errors.New("no backend")}, 3, Options{}, nil)

	if _, err := m.Create("max"); err == nil {
		t.Fatal("expected provider error")
	}
	if m.Free() != 3 || m.Len() != 0 {
		t.Errorf("Free=%d Len=%d after provider failure", m.Free(), m.Len())
	}

	// The id goes back to the head, so a later success still gets 0.
	m.provider = llm.NewSingletonProvider(&fakeGenerator{})
	if id, _ := m.Create("max"); id != 0 {
		t.Errorf("id after restore = %d, want 0", id)
	}
}

func TestManager_ConcurrentCreateDestroy(t *testing.T) {
	const capacity = 8
	m := newTestManager(t, capacity)

	var (
		mu   sync.Mutex
		live = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id, err := m.Create("max")
				if errors.Is(err, ErrCapacityExceeded) {
					continue
				}
				if err != nil {
					t.Error(err)
					return
				}

				mu.Lock()
				if live[id] {
					t.Errorf("id %d handed out twice", id)
				}
				live[id] = true
				mu.Unlock()

				mu.Lock()
				delete(live, id)
				mu.Unlock()
				m.Destroy(id)
			}
		}()
	}
	wg.Wait()

	if m.Len() != 0 || m.Free() != capacity {
		t.Errorf("Len=%d Free=%d after all sessions destroyed", m.Len(), m.Free())
	}
}

func TestNewManager_DefaultCapacity(t *testing.T) {
	m := NewManager(llm.NewSingletonProvider(&fakeGenerator{}), 0, Options{}, nil)
	if m.Capacity() != DefaultMaxSessions {
		t.Errorf("Capacity = %d, want %d", m.Capacity(), DefaultMaxSessions)
	}
}
