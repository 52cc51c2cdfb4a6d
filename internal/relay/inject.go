package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/voicerelay/internal/protocol"
)

var allowedModalities = map[string]bool{
	"text":      true,
	"audio":     true,
	"animation": true,
	"avatar":    true,
}

// InjectRequest pushes a tool result into a live conversation from outside
// the model's own function-calling loop.
type InjectRequest struct {
	FunctionName       string
	Arguments          map[string]any
	Output             any
	Silent             bool
	ResponseModalities []string
}

// InjectToolResult adds a function call and its output to the conversation
// and returns the generated call id. Output is computed with the tool
// registry when the caller does not supply one.
func (r *Relay) InjectToolResult(ctx context.Context, req InjectRequest) (string, error) {
	name := strings.TrimSpace(req.FunctionName)
	if name == "" {
		return "", &ValidationError{Field: "functionName", Reason: "is required"}
	}
	modalities, err := normalizeModalities(req.ResponseModalities)
	if err != nil {
		return "", err
	}
	if r.State() != StateOpen {
		return "", ErrNotConnected
	}

	args := maps.Clone(req.Arguments)
	if args == nil {
		args = map[string]any{}
	}
	if subject := subjectFromArguments(args); subject != "" {
		delete(args, "patientId")
		args["patient_id"] = subject
		r.ScheduleContextRefresh(subject)
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return "", &ValidationError{Field: "arguments", Reason: err.Error()}
	}

	output := req.Output
	if output == nil {
		if r.tools == nil {
			return "", fmt.Errorf("inject %s: no tool registry", name)
		}
		output = r.tools.Invoke(ctx, name, args)
	}

	callID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateOpen {
		return "", ErrNotConnected
	}
	if !r.enqueueLocked(protocol.NewFunctionCall(callID, name, string(rawArgs))) ||
		!r.enqueueLocked(protocol.NewFunctionCallOutput(callID, stringifyOutput(output))) {
		return "", ErrNotConnected
	}

	switch {
	case req.Silent:
	case len(modalities) > 0:
		r.requestOrOweLocked(&protocol.ResponseOptions{Modalities: modalities}, "injection")
	default:
		r.requestOrOweLocked(nil, "injection")
	}
	r.logger.Info("tool result injected", "session_id", r.sessionID, "name", name, "call_id", callID, "silent", req.Silent)
	return callID, nil
}

func normalizeModalities(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToLower(strings.TrimSpace(m))
		if !allowedModalities[m] {
			return nil, &ValidationError{Field: "responseModalities", Reason: fmt.Sprintf("unsupported modality %q", m)}
		}
		out = append(out, m)
	}
	return out, nil
}
