package relay

import (
	"testing"
	"time"
)

func TestOutboundQueueFIFO(t *testing.T) {
	q := newOutboundQueue(0)
	for i := 0; i < 3; i++ {
		if !q.Put(outbound{payload: i}) {
			t.Fatalf("Put(%d) = false", i)
		}
	}
	for want := 0; want < 3; want++ {
		item, ok := q.Get()
		if !ok || item.payload != want {
			t.Fatalf("Get() = (%v, %v), want (%d, true)", item.payload, ok, want)
		}
	}
	if _, ok := q.GetNoWait(); ok {
		t.Fatalf("GetNoWait() on empty queue = true")
	}
}

func TestOutboundQueueAudioCap(t *testing.T) {
	q := newOutboundQueue(2)
	q.Put(outbound{payload: "a1", audio: true})
	q.Put(outbound{payload: "a2", audio: true})
	if q.Put(outbound{payload: "a3", audio: true}) {
		t.Fatalf("Put(audio) over cap = true, want dropped")
	}
	if !q.Put(outbound{payload: "cmd"}) {
		t.Fatalf("Put(command) over cap = false, commands must not be dropped")
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
}

func TestOutboundQueueCloseUnblocksGet(t *testing.T) {
	q := newOutboundQueue(0)
	done := make(chan bool)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Get() after Close = true")
		}
	case <-time.After(time.Second):
		t.Fatalf("Get() still blocked after Close")
	}
	if q.Put(outbound{payload: "late"}) {
		t.Fatalf("Put() after Close = true")
	}
}
