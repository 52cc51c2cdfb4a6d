package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/policy"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/readback"
	"github.com/ent0n29/voicerelay/internal/reliability"
	"github.com/ent0n29/voicerelay/internal/transcript"
)

const maxLoggedTranscript = 200

// dispatch applies one upstream event. It runs on the receive loop only.
func (r *Relay) dispatch(evt protocol.ServerEvent) {
	switch e := evt.(type) {
	case protocol.SessionCreated:
		r.onSessionCreated(e.Session.ID)
	case protocol.SpeechStarted:
		r.onSpeechStarted()
	case protocol.SpeechStopped:
		r.mu.Lock()
		r.speechStoppedAt = time.Now()
		r.mu.Unlock()
		r.maybeRequestResponse("speech_stopped")
	case protocol.InputTranscriptCompleted:
		r.onUserTranscript(e.Transcript)
	case protocol.InputTranscriptFailed:
		msg := ""
		if e.Error != nil {
			msg = e.Error.Message
		}
		r.logger.Warn("input transcription failed", "item_id", e.ItemID, "error", msg)
	case protocol.ResponseCreated:
		r.mu.Lock()
		r.responseInFlight = true
		if r.pendingReadback != nil && r.readbackAwaitingID {
			r.readbackAwaitingID = false
			r.readbackResponseID = e.Response.ID
		}
		r.mu.Unlock()
	case protocol.ResponseDone:
		r.onResponseTerminal(e.Response, "done")
	case protocol.ResponseFailed:
		r.onResponseTerminal(e.Response, "failed")
	case protocol.ResponseInterrupted:
		r.onResponseTerminal(e.Response, "interrupted")
	case protocol.ResponseCanceled:
		r.onResponseTerminal(e.Response, "canceled")
	case protocol.AssistantTextDone:
		if text := e.Content(); r.transcript.Append(r.transcriptID(), transcript.RoleAssistant, text) {
			r.logger.Info("assistant said", "session_id", r.SessionID(), "text", policy.LogSafe(text, maxLoggedTranscript))
		}
	case protocol.OutputItemDone:
		if e.Item.Type == protocol.ItemFunctionCall {
			r.onFunctionCall(e.Item)
		}
	case protocol.AudioDelta:
		r.onAudioDelta(e.Delta)
	case protocol.Error:
		r.onUpstreamError(e.Error)
	case protocol.Unknown:
		r.logger.Debug("ignoring upstream event", "type", e.Type)
	default:
		r.logger.Debug("unhandled upstream event", "type", evt.EventType())
	}
}

func (r *Relay) onSessionCreated(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		r.logger.Warn("session created without id")
		return
	}

	r.mu.Lock()
	if r.sessionID != "" {
		bound := r.sessionID
		r.mu.Unlock()
		if bound != id {
			r.logger.Warn("ignoring second session id", "session_id", bound, "new_session_id", id)
		}
		return
	}
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	// Registering under mu orders it against teardown, which unregisters
	// whatever id it observes once the state is Closed.
	r.sessionID = id
	if r.registry != nil {
		r.registry.Register(id, r)
	}
	r.mu.Unlock()

	r.metrics.IncSessionEvent("bound")
	r.logger.Info("session bound", "session_id", id)

	r.mu.Lock()
	r.voice.current = r.voice.primary
	r.voice.fallbackUsed = false
	greet := !r.greeted
	r.greeted = true
	r.mu.Unlock()

	if greet {
		r.maybeRequestResponse("greeting")
	}

	r.mu.Lock()
	pending := r.pendingBackground
	r.pendingBackground = nil
	if pending != nil && r.state == StateOpen {
		r.enqueueLocked(*pending)
	}
	r.mu.Unlock()
	if pending != nil {
		r.logger.Info("flushed pending background context", "session_id", id)
	}
}

func (r *Relay) onSpeechStarted() {
	if r.client == nil {
		return
	}
	if err := r.client.SendJSON(protocol.StopAudio{Type: protocol.TypeStopAudio}); err != nil {
		r.logger.Debug("stop audio signal failed", "error", err)
	}
}

func (r *Relay) onUserTranscript(text string) {
	if !r.transcript.Append(r.transcriptID(), transcript.RoleUser, text) {
		return
	}
	r.logger.Info("user said", "session_id", r.SessionID(), "text", policy.LogSafe(text, maxLoggedTranscript))

	email, ok := readback.DetectEmail(text)
	if !ok {
		return
	}
	r.startReadback(email)
}

func (r *Relay) onResponseTerminal(resp protocol.Response, kind string) {
	code := resp.ErrorCode()

	r.mu.Lock()
	if r.supersededByReadbackLocked(resp.ID) {
		r.mu.Unlock()
		r.logger.Debug("response superseded by readback", "response_id", resp.ID, "kind", kind)
		return
	}
	r.responseInFlight = false
	r.awaitingFirstAudio = false
	pending := r.pendingReadback
	r.clearReadbackLocked()
	owed, owedOpts := r.responseOwed, r.owedOptions
	r.responseOwed, r.owedOptions = false, nil

	switch {
	case kind == "failed" && pending != nil:
		r.sendReadbackFallbackLocked(*pending)
	case kind == "done" && owed:
		r.requestResponseLocked(owedOpts, "deferred")
	}
	r.mu.Unlock()

	if kind == "failed" && pending != nil {
		r.metrics.IncReadbackFallback()
		r.logger.Warn("readback rejected, spelling instead", "session_id", r.SessionID(), "code", code)
	}

	if (kind == "done" || kind == "failed") && reliability.IsSynthesisFailure(code) {
		r.voiceFallback(code)
	} else if kind == "failed" {
		r.logger.Warn("response failed", "session_id", r.SessionID(), "response_id", resp.ID, "code", code)
	}
}

func (r *Relay) onUpstreamError(detail protocol.ErrorDetail) {
	code := strings.TrimSpace(detail.Code)
	if code == "" {
		code = strings.TrimSpace(detail.Type)
	}
	if reliability.IsActiveResponseConflict(code) {
		r.logger.Debug("upstream already has an active response", "session_id", r.SessionID())
		return
	}
	r.logger.Error("upstream error", "session_id", r.SessionID(), "code", code, "message", detail.Message)

	r.mu.Lock()
	r.responseInFlight = false
	pending := r.pendingReadback
	r.clearReadbackLocked()
	if pending != nil {
		r.sendReadbackFallbackLocked(*pending)
	}
	r.mu.Unlock()
	if pending != nil {
		r.metrics.IncReadbackFallback()
	}

	if reliability.IsSynthesisFailure(code) {
		r.voiceFallback(code)
	}
}

func (r *Relay) onFunctionCall(item protocol.OutputItem) {
	started := time.Now()
	args := map[string]any{}
	var output string

	if raw := strings.TrimSpace(item.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			output = fmt.Sprintf("Error processing request: %v", err)
		}
	}
	if output == "" {
		if subject := subjectFromArguments(args); subject != "" {
			r.ScheduleContextRefresh(subject)
		}
		if r.tools == nil {
			output = fmt.Sprintf("I'm sorry, I don't know how to handle the function '%s'.", item.Name)
		} else {
			output = stringifyOutput(r.tools.Invoke(r.ctx, item.Name, args))
		}
	}
	r.logger.Info("function call handled", "session_id", r.SessionID(), "name", item.Name, "call_id", item.CallID, "duration", time.Since(started))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateOpen {
		return
	}
	r.enqueueLocked(protocol.NewFunctionCallOutput(item.CallID, output))
	r.requestOrOweLocked(nil, "function_call")
}

func (r *Relay) onAudioDelta(delta string) {
	if delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		r.logger.Debug("dropping undecodable audio delta", "error", err)
		return
	}

	now := time.Now()
	var sinceRequest, sinceSpeech time.Duration
	r.mu.Lock()
	if r.awaitingFirstAudio {
		r.awaitingFirstAudio = false
		sinceRequest = now.Sub(r.responseRequestedAt)
	}
	if !r.speechStoppedAt.IsZero() {
		sinceSpeech = now.Sub(r.speechStoppedAt)
		r.speechStoppedAt = time.Time{}
	}
	r.mu.Unlock()
	if sinceRequest > 0 {
		r.metrics.ObserveFirstAudioLatency(sinceRequest)
	}
	if sinceSpeech > 0 {
		r.metrics.ObserveStage(observability.StageSpeechStoppedToFirstAudio, sinceSpeech)
	}

	if r.client == nil {
		return
	}
	if err := r.client.SendAudio(pcm); err != nil {
		r.logger.Debug("client audio send failed", "error", err)
	}
}

func stringifyOutput(v any) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	case []byte:
		return string(out)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
