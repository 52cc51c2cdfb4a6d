package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/voicerelay/internal/protocol"
)

func TestInjectRejectsUnknownModality(t *testing.T) {
	r := newOpenRelay(t, Deps{Tools: orderTools(t)})

	_, err := r.InjectToolResult(context.Background(), InjectRequest{
		FunctionName:       "check_order_status",
		Output:             "ok",
		ResponseModalities: []string{"audio", "bogus"},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("InjectToolResult() error = %v, want ValidationError", err)
	}
	if n := len(drainQueue(r)); n != 0 {
		t.Fatalf("queued %d commands after validation failure, want 0", n)
	}
}

func TestInjectRequiresOpenConnection(t *testing.T) {
	r := New(testOptions(), Deps{})
	t.Cleanup(r.Close)

	_, err := r.InjectToolResult(context.Background(), InjectRequest{FunctionName: "x", Output: "y"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("InjectToolResult() error = %v, want ErrNotConnected", err)
	}
}

func TestInjectScopedModality(t *testing.T) {
	r := newOpenRelay(t, Deps{Tools: orderTools(t)})

	callID, err := r.InjectToolResult(context.Background(), InjectRequest{
		FunctionName:       "check_order_status",
		Arguments:          map[string]any{"customer_id": "CUST001", "order_id": "ORD12345"},
		ResponseModalities: []string{"Audio"},
	})
	if err != nil {
		t.Fatalf("InjectToolResult() error = %v", err)
	}
	if !strings.HasPrefix(callID, "call_") {
		t.Fatalf("call id = %q, want call_ prefix", callID)
	}

	sent := drainQueue(r)
	calls := conversationItems(sent, protocol.ItemFunctionCall)
	outputs := conversationItems(sent, protocol.ItemFunctionCallOutput)
	if len(calls) != 1 || len(outputs) != 1 {
		t.Fatalf("items = %d calls, %d outputs; want 1 each", len(calls), len(outputs))
	}
	if calls[0].CallID != callID || outputs[0].CallID != callID {
		t.Fatalf("call ids = %q/%q, want %q", calls[0].CallID, outputs[0].CallID, callID)
	}
	if !strings.Contains(outputs[0].Output, "In Transit") {
		t.Fatalf("computed output = %q", outputs[0].Output)
	}
	responses := responseCreates(sent)
	if len(responses) != 1 {
		t.Fatalf("response.create count = %d, want 1", len(responses))
	}
	if responses[0].Response == nil || len(responses[0].Response.Modalities) != 1 || responses[0].Response.Modalities[0] != "audio" {
		t.Fatalf("response options = %+v, want modalities [audio]", responses[0].Response)
	}
}

func TestInjectSilentSendsNoResponse(t *testing.T) {
	r := newOpenRelay(t, Deps{})

	_, err := r.InjectToolResult(context.Background(), InjectRequest{
		FunctionName: "render_chart",
		Output:       map[string]any{"status": "rendered"},
		Silent:       true,
	})
	if err != nil {
		t.Fatalf("InjectToolResult() error = %v", err)
	}
	sent := drainQueue(r)
	if n := len(responseCreates(sent)); n != 0 {
		t.Fatalf("response.create count = %d, want 0", n)
	}
	outputs := conversationItems(sent, protocol.ItemFunctionCallOutput)
	if len(outputs) != 1 || outputs[0].Output != `{"status":"rendered"}` {
		t.Fatalf("outputs = %+v", outputs)
	}
}

func TestInjectPlainRequestRespectsInFlight(t *testing.T) {
	r := newOpenRelay(t, Deps{})
	r.maybeRequestResponse("test")
	drainQueue(r)

	if _, err := r.InjectToolResult(context.Background(), InjectRequest{FunctionName: "note", Output: "saved"}); err != nil {
		t.Fatalf("InjectToolResult() error = %v", err)
	}
	if n := len(responseCreates(drainQueue(r))); n != 0 {
		t.Fatalf("response.create while in flight = %d, want 0", n)
	}

	dispatchRaw(t, r, `{"type":"response.done","response":{"status":"completed"}}`)
	if n := len(responseCreates(drainQueue(r))); n != 1 {
		t.Fatalf("response.create after done = %d, want 1 deferred", n)
	}
}

func TestInjectScopedModalityDeferredWhileInFlight(t *testing.T) {
	r := newOpenRelay(t, Deps{})
	r.maybeRequestResponse("test")
	drainQueue(r)

	_, err := r.InjectToolResult(context.Background(), InjectRequest{
		FunctionName:       "note",
		Output:             "saved",
		ResponseModalities: []string{"text"},
	})
	if err != nil {
		t.Fatalf("InjectToolResult() error = %v", err)
	}
	if n := len(responseCreates(drainQueue(r))); n != 0 {
		t.Fatalf("response.create while in flight = %d, want 0", n)
	}

	dispatchRaw(t, r, `{"type":"response.interrupted"}`)
	if n := len(responseCreates(drainQueue(r))); n != 0 {
		t.Fatalf("response.create after interrupted = %d, want 0", n)
	}

	r.maybeRequestResponse("test")
	drainQueue(r)
	if _, err := r.InjectToolResult(context.Background(), InjectRequest{
		FunctionName:       "note",
		Output:             "saved",
		ResponseModalities: []string{"text"},
	}); err != nil {
		t.Fatalf("InjectToolResult() error = %v", err)
	}
	dispatchRaw(t, r, `{"type":"response.done","response":{"status":"completed"}}`)
	deferred := responseCreates(drainQueue(r))
	if len(deferred) != 1 {
		t.Fatalf("response.create after done = %d, want 1", len(deferred))
	}
	if deferred[0].Response == nil || len(deferred[0].Response.Modalities) != 1 || deferred[0].Response.Modalities[0] != "text" {
		t.Fatalf("deferred response options = %+v, want text modality", deferred[0].Response)
	}
}

func TestInjectNormalizesPatientAndRefreshesContext(t *testing.T) {
	loaded := make(chan string, 1)
	loader := ContextLoaderFunc(func(_ context.Context, id string) (ContextDocument, error) {
		loaded <- id
		return ContextDocument{SubjectID: id}, nil
	})
	r := newOpenRelay(t, Deps{Loader: loader})

	_, err := r.InjectToolResult(context.Background(), InjectRequest{
		FunctionName: "get_patient_history",
		Arguments:    map[string]any{"patientId": " patient-001 "},
		Output:       "history",
		Silent:       true,
	})
	if err != nil {
		t.Fatalf("InjectToolResult() error = %v", err)
	}

	if id := <-loaded; id != "PATIENT001" {
		t.Fatalf("refresh subject = %q, want PATIENT001", id)
	}
	calls := conversationItems(drainQueue(r), protocol.ItemFunctionCall)
	if len(calls) != 1 {
		t.Fatalf("function_call count = %d, want 1", len(calls))
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(calls[0].Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["patient_id"] != "PATIENT001" {
		t.Fatalf("arguments = %v, want normalized patient_id", args)
	}
	if _, ok := args["patientId"]; ok {
		t.Fatalf("arguments still carry patientId: %v", args)
	}
}

func TestInjectRequiresFunctionName(t *testing.T) {
	r := newOpenRelay(t, Deps{})
	_, err := r.InjectToolResult(context.Background(), InjectRequest{Output: "x"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "functionName" {
		t.Fatalf("InjectToolResult() error = %v, want functionName ValidationError", err)
	}
}
