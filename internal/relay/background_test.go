package relay

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/voicerelay/internal/protocol"
)

func systemMessages(items []any) []string {
	var out []string
	for _, item := range conversationItems(items, protocol.ItemMessage) {
		if item.Role == "system" && len(item.Content) > 0 {
			out = append(out, item.Content[0].Text)
		}
	}
	return out
}

func TestContextRefreshLastWriterWins(t *testing.T) {
	var aCanceled sync.WaitGroup
	aCanceled.Add(1)
	loader := ContextLoaderFunc(func(ctx context.Context, id string) (ContextDocument, error) {
		if id == "PATIENT001" {
			<-ctx.Done()
			aCanceled.Done()
			return ContextDocument{SubjectID: id, Profile: map[string]string{"patientId": id}, Overview: "stale"}, nil
		}
		return ContextDocument{SubjectID: id, Profile: map[string]string{"patientId": id}, Overview: "fresh overview"}, nil
	})
	r := newOpenRelay(t, Deps{Loader: loader})
	r.sessionID = "S1"

	r.ScheduleContextRefresh("patient-001")
	r.ScheduleContextRefresh("patient-002")
	aCanceled.Wait()

	var messages []string
	waitFor(t, "background context", func() bool {
		messages = append(messages, systemMessages(drainQueue(r))...)
		return len(messages) > 0
	})
	if len(messages) != 1 {
		t.Fatalf("system messages = %d, want 1", len(messages))
	}
	if !strings.Contains(messages[0], "PATIENT002") || !strings.Contains(messages[0], "fresh overview") {
		t.Fatalf("applied context = %q, want PATIENT002", messages[0])
	}
	if strings.Contains(messages[0], "stale") {
		t.Fatalf("superseded context leaked: %q", messages[0])
	}

	id, profile, loaded := r.SubjectProfile()
	if !loaded || id != "PATIENT002" {
		t.Fatalf("SubjectProfile() = (%q, %v, %v), want PATIENT002", id, profile, loaded)
	}
	if p := profile.(map[string]string); p["patientId"] != "PATIENT002" {
		t.Fatalf("profile = %v", p)
	}
}

func TestContextRefreshHeldUntilSessionCreated(t *testing.T) {
	loader := ContextLoaderFunc(func(_ context.Context, id string) (ContextDocument, error) {
		return ContextDocument{SubjectID: id, Overview: "Allergies: penicillin"}, nil
	})
	r := newOpenRelay(t, Deps{Loader: loader})

	r.ScheduleContextRefresh("PATIENT001")
	waitFor(t, "pending background payload", func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.pendingBackground != nil
	})
	if n := len(systemMessages(drainQueue(r))); n != 0 {
		t.Fatalf("system messages before session-created = %d, want 0", n)
	}

	dispatchRaw(t, r, `{"type":"session.created","session":{"id":"S1"}}`)
	sent := drainQueue(r)
	messages := systemMessages(sent)
	if len(messages) != 1 || !strings.Contains(messages[0], "penicillin") {
		t.Fatalf("flushed messages = %q", messages)
	}
	if n := len(responseCreates(sent)); n != 1 {
		t.Fatalf("greeting count = %d, want 1", n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingBackground != nil {
		t.Fatalf("pending background not cleared after flush")
	}
}

func TestContextRefreshSameSubjectIsNoop(t *testing.T) {
	var calls atomic.Int32
	loader := ContextLoaderFunc(func(_ context.Context, id string) (ContextDocument, error) {
		calls.Add(1)
		return ContextDocument{SubjectID: id}, nil
	})
	r := newOpenRelay(t, Deps{Loader: loader})
	r.sessionID = "S1"

	r.ScheduleContextRefresh("PATIENT001")
	waitFor(t, "context load", func() bool {
		_, _, loaded := r.SubjectProfile()
		return loaded
	})
	r.ScheduleContextRefresh("patient001")
	r.ScheduleContextRefresh("")

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader calls = %d, want 1", got)
	}
}

func TestContextRefreshFailureLeavesStateUntouched(t *testing.T) {
	loader := ContextLoaderFunc(func(context.Context, string) (ContextDocument, error) {
		return ContextDocument{}, context.DeadlineExceeded
	})
	r := newOpenRelay(t, Deps{Loader: loader})
	r.sessionID = "S1"

	r.ScheduleContextRefresh("PATIENT009")
	waitFor(t, "refresh to finish", func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.refresh.cancel == nil
	})
	if _, _, loaded := r.SubjectProfile(); loaded {
		t.Fatalf("SubjectProfile() loaded after failed refresh")
	}
	if n := len(systemMessages(drainQueue(r))); n != 0 {
		t.Fatalf("system messages = %d, want 0", n)
	}
}
