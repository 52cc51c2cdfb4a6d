package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

// ContextDocument is the background a session is primed with for a subject.
type ContextDocument struct {
	SubjectID string
	Profile   any
	Overview  string
}

// ContextLoader fetches background context for a subject.
type ContextLoader interface {
	LoadContext(ctx context.Context, subjectID string) (ContextDocument, error)
}

type ContextLoaderFunc func(ctx context.Context, subjectID string) (ContextDocument, error)

func (f ContextLoaderFunc) LoadContext(ctx context.Context, subjectID string) (ContextDocument, error) {
	return f(ctx, subjectID)
}

// refreshState tracks the one refresh task that may apply its result. A task
// whose generation no longer matches was superseded and must not write.
type refreshState struct {
	gen     uint64
	subject string
	cancel  context.CancelFunc
}

type subjectContext struct {
	id      string
	loaded  bool
	profile any
}

// ScheduleContextRefresh loads background context for subjectID and injects
// it into the conversation, superseding any refresh still in flight.
func (r *Relay) ScheduleContextRefresh(subjectID string) {
	id := normalizeSubjectID(subjectID)
	if id == "" || r.loader == nil {
		return
	}

	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	if r.subject.id == id && r.subject.loaded {
		r.mu.Unlock()
		return
	}
	if r.refresh.cancel != nil && r.refresh.subject == id {
		r.mu.Unlock()
		return
	}
	if r.refresh.cancel != nil {
		r.refresh.cancel()
	}
	r.refresh.gen++
	gen := r.refresh.gen
	ctx, cancel := context.WithCancel(r.ctx)
	r.refresh.cancel = cancel
	r.refresh.subject = id
	r.mu.Unlock()

	r.logger.Debug("context refresh scheduled", "subject", id)
	go r.runContextRefresh(ctx, cancel, gen, id)
}

func (r *Relay) runContextRefresh(ctx context.Context, cancel context.CancelFunc, gen uint64, id string) {
	defer cancel()
	started := time.Now()
	doc, err := r.loader.LoadContext(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.refresh.gen || ctx.Err() != nil {
		return
	}
	r.refresh.cancel = nil
	r.refresh.subject = ""

	if err != nil {
		r.logger.Warn("context refresh failed", "subject", id, "error", err)
		return
	}
	r.metrics.ObserveStage(observability.StageContextLoad, time.Since(started))

	item := backgroundMessage(id, doc)
	r.subject = subjectContext{id: id, loaded: true, profile: doc.Profile}
	if r.sessionID != "" && r.state == StateOpen {
		r.enqueueLocked(item)
		r.pendingBackground = nil
		return
	}
	r.pendingBackground = &item
}

// SubjectProfile returns the profile applied by the last completed refresh.
func (r *Relay) SubjectProfile() (string, any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subject.id, r.subject.profile, r.subject.loaded
}

func backgroundMessage(id string, doc ContextDocument) protocol.ConversationItemCreate {
	var b strings.Builder
	fmt.Fprintf(&b, "Background context for patient %s. Use it to personalize the conversation; do not read it aloud verbatim.", id)
	if doc.Profile != nil {
		if raw, err := json.Marshal(doc.Profile); err == nil {
			b.WriteString("\nProfile: ")
			b.Write(raw)
		}
	}
	if overview := strings.TrimSpace(doc.Overview); overview != "" {
		b.WriteString("\n\nOverview:\n")
		b.WriteString(overview)
	}
	return protocol.NewSystemMessage(b.String())
}

func normalizeSubjectID(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func subjectFromArguments(args map[string]any) string {
	for _, key := range []string{"patient_id", "patientId"} {
		if v, ok := args[key].(string); ok {
			if id := normalizeSubjectID(v); id != "" {
				return id
			}
		}
	}
	return ""
}
