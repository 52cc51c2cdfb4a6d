package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ClientKind identifies text frames sent by the browser client.
type ClientKind string

const (
	KindUploadTranscript ClientKind = "UploadTranscript"
)

// ClientFrameType identifies text frames the relay sends back to the browser client.
type ClientFrameType string

const (
	TypeStopAudio          ClientFrameType = "StopAudio"
	TypeTranscriptUploaded ClientFrameType = "TranscriptUploaded"
)

var ErrUnsupportedKind = errors.New("unsupported client command")

type ClientEnvelope struct {
	Kind ClientKind `json:"Kind"`
}

// UploadTranscript asks the relay to flush its transcript buffer to the sink.
type UploadTranscript struct {
	Kind ClientKind `json:"Kind"`
}

// StopAudio tells the client to stop local playback (barge-in).
type StopAudio struct {
	Type ClientFrameType `json:"type"`
}

// TranscriptUploaded reports the outcome of an UploadTranscript command.
type TranscriptUploaded struct {
	Type      ClientFrameType `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Success   bool            `json:"success"`
	Detail    string          `json:"detail,omitempty"`
}

// ParseClientCommand decodes a text frame from the browser client.
func ParseClientCommand(raw []byte) (any, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid client command: %w", err)
	}

	switch env.Kind {
	case KindUploadTranscript:
		return UploadTranscript{Kind: env.Kind}, nil
	default:
		return nil, ErrUnsupportedKind
	}
}
