package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type owner struct{ name string }

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry[*owner]()
	a := &owner{name: "a"}
	r.Register("S1", a)

	got, err := r.Lookup("S1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != a {
		t.Fatalf("Lookup() = %v, want %v", got, a)
	}

	if !r.Unregister("S1", a) {
		t.Fatalf("Unregister() = false, want true")
	}
	if _, err := r.Lookup("S1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryDuplicateOverwrites(t *testing.T) {
	r := NewRegistry[*owner]()
	a, b := &owner{name: "a"}, &owner{name: "b"}
	r.Register("S1", a)
	r.Register("S1", b)

	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	got, _ := r.Lookup("S1")
	if got != b {
		t.Fatalf("Lookup() = %v, want newest owner", got.name)
	}

	if r.Unregister("S1", a) {
		t.Fatalf("Unregister() by stale owner = true, want false")
	}
	if got, _ := r.Lookup("S1"); got != b {
		t.Fatalf("stale unregister evicted the current owner")
	}
}

func TestRegistryIgnoresEmptyID(t *testing.T) {
	r := NewRegistry[*owner]()
	r.Register("", &owner{})
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistryChangeHook(t *testing.T) {
	r := NewRegistry[*owner]()
	var counts []int
	r.SetChangeHook(func(active int) { counts = append(counts, active) })

	a := &owner{}
	r.Register("S1", a)
	r.Register("S2", a)
	r.Unregister("S1", a)
	r.Unregister("missing", a)

	want := []int{1, 2, 1}
	if fmt.Sprint(counts) != fmt.Sprint(want) {
		t.Fatalf("hook counts = %v, want %v", counts, want)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry[*owner]()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := &owner{}
			id := fmt.Sprintf("S%d", i)
			r.Register(id, o)
			_, _ = r.Lookup(id)
			_ = r.List()
			r.Unregister(id, o)
		}(i)
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistryListOrdered(t *testing.T) {
	r := NewRegistry[*owner]()
	r.Register("S1", &owner{})
	r.Register("S2", &owner{})
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].RegisteredAt.After(list[1].RegisteredAt) {
		t.Fatalf("List() not ordered: %+v", list)
	}
}
