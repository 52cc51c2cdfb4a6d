package relay

import (
	"time"

	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/readback"
)

// maybeRequestResponse asks upstream for a response unless one is already in
// flight. It is the only path that raises the in-flight flag outside of the
// readback commands, which cancel the previous response explicitly.
func (r *Relay) maybeRequestResponse(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestResponseLocked(nil, reason)
}

func (r *Relay) requestResponseLocked(opts *protocol.ResponseOptions, reason string) bool {
	if r.state != StateOpen {
		return false
	}
	if r.responseInFlight {
		r.logger.Debug("response already in flight", "reason", reason)
		return false
	}
	return r.sendResponseLocked(opts, reason)
}

// requestOrOweLocked requests a response, or defers it to the next
// response.done when one is still open.
func (r *Relay) requestOrOweLocked(opts *protocol.ResponseOptions, reason string) {
	if r.requestResponseLocked(opts, reason) || r.state != StateOpen || !r.responseInFlight {
		return
	}
	r.responseOwed = true
	if opts != nil {
		r.owedOptions = opts
	}
	r.logger.Debug("response deferred", "reason", reason)
}

// sendResponseLocked bypasses the in-flight gate.
func (r *Relay) sendResponseLocked(opts *protocol.ResponseOptions, reason string) bool {
	if !r.enqueueLocked(protocol.ResponseCreate{Type: protocol.CommandResponseCreate, Response: opts}) {
		return false
	}
	r.responseInFlight = true
	r.responseRequestedAt = time.Now()
	r.awaitingFirstAudio = true
	r.logger.Debug("response requested", "reason", reason)
	return true
}

// voiceFallback switches to the fallback voice once per session and asks for
// the failed response again.
func (r *Relay) voiceFallback(code string) {
	r.mu.Lock()
	v := &r.voice
	if v.fallbackUsed || v.fallback.Name == "" || v.fallback.Name == v.current.Name || r.state != StateOpen {
		current := v.current.Name
		r.mu.Unlock()
		r.logger.Error("speech synthesis failed, no fallback voice left", "session_id", r.SessionID(), "code", code, "voice", current)
		return
	}
	v.fallbackUsed = true
	previous := v.current.Name
	v.current = v.fallback
	fallback := v.fallback
	r.enqueueLocked(protocol.SessionUpdate{
		Type:    protocol.CommandSessionUpdate,
		Session: protocol.SessionConfig{Voice: &fallback},
	})
	r.mu.Unlock()

	r.metrics.IncVoiceFallback()
	r.logger.Warn("speech synthesis failed, switching voice", "session_id", r.SessionID(), "code", code, "from", previous, "to", fallback.Name)
	r.maybeRequestResponse("voice_fallback")
}

// CurrentVoice returns the voice the session is speaking with.
func (r *Relay) CurrentVoice() protocol.Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.voice.current
}

func (r *Relay) startReadback(email string) {
	r.mu.Lock()
	if readback.SameToken(r.lastEmail, email) {
		r.mu.Unlock()
		return
	}
	if r.state != StateOpen {
		r.mu.Unlock()
		return
	}
	r.lastEmail = email
	rb := readback.Build(email)
	r.pendingReadback = &rb
	r.readbackAwaitingID = true
	r.readbackResponseID = ""
	r.sendResponseLocked(&protocol.ResponseOptions{
		Instructions:   rb.Instructions(),
		CancelPrevious: true,
	}, "email_readback")
	r.mu.Unlock()

	r.logger.Info("reading back email", "session_id", r.SessionID())
}

func (r *Relay) clearReadbackLocked() {
	r.pendingReadback = nil
	r.readbackAwaitingID = false
	r.readbackResponseID = ""
}

// supersededByReadbackLocked reports whether a terminal event belongs to the
// response a pending readback cancelled rather than to the readback itself.
// Events without a response id are attributed to the readback.
func (r *Relay) supersededByReadbackLocked(responseID string) bool {
	if r.pendingReadback == nil || responseID == "" {
		return false
	}
	if r.readbackAwaitingID {
		return true
	}
	return r.readbackResponseID != "" && responseID != r.readbackResponseID
}

func (r *Relay) sendReadbackFallbackLocked(rb readback.Readback) {
	r.sendResponseLocked(&protocol.ResponseOptions{
		Instructions: rb.FallbackInstructions(),
	}, "readback_fallback")
}
