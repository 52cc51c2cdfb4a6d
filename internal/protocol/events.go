package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType identifies events received from the upstream realtime service.
type EventType string

const (
	EventSessionCreated              EventType = "session.created"
	EventSpeechStarted               EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped               EventType = "input_audio_buffer.speech_stopped"
	EventInputTranscriptCompleted    EventType = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptFailed       EventType = "conversation.item.input_audio_transcription.failed"
	EventResponseCreated             EventType = "response.created"
	EventResponseDone                EventType = "response.done"
	EventResponseFailed              EventType = "response.failed"
	EventResponseInterrupted         EventType = "response.interrupted"
	EventResponseCanceled            EventType = "response.canceled"
	EventResponseCancelled           EventType = "response.cancelled"
	EventResponseTextDone            EventType = "response.text.done"
	EventResponseAudioTranscriptDone EventType = "response.audio_transcript.done"
	EventResponseOutputItemDone      EventType = "response.output_item.done"
	EventResponseAudioDelta          EventType = "response.audio.delta"
	EventError                       EventType = "error"
)

var ErrMalformedEvent = errors.New("malformed upstream event")

// ServerEvent is the closed set of upstream events the relay understands.
// Event types without a dedicated variant decode to Unknown.
type ServerEvent interface {
	EventType() EventType
	serverEvent()
}

type SessionCreated struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type SpeechStarted struct {
	AudioStartMS int64 `json:"audio_start_ms"`
}

type SpeechStopped struct {
	AudioEndMS int64 `json:"audio_end_ms"`
}

type InputTranscriptCompleted struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type InputTranscriptFailed struct {
	ItemID string       `json:"item_id"`
	Error  *ErrorDetail `json:"error"`
}

type ResponseCreated struct {
	Response Response `json:"response"`
}

type ResponseDone struct {
	Response Response `json:"response"`
}

type ResponseFailed struct {
	Response Response `json:"response"`
}

type ResponseInterrupted struct {
	Response Response `json:"response"`
}

type ResponseCanceled struct {
	Response Response `json:"response"`
}

// AssistantTextDone carries the final assistant text of a response, either
// from a text modality or from the transcript of generated audio.
type AssistantTextDone struct {
	Source     EventType `json:"-"`
	ResponseID string    `json:"response_id"`
	Text       string    `json:"text"`
	Transcript string    `json:"transcript"`
}

// Content returns whichever of text or transcript the event carried.
func (e AssistantTextDone) Content() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Transcript
}

type OutputItemDone struct {
	ResponseID string     `json:"response_id"`
	Item       OutputItem `json:"item"`
}

type OutputItem struct {
	ID        string   `json:"id"`
	Type      ItemType `json:"type"`
	CallID    string   `json:"call_id"`
	Name      string   `json:"name"`
	Arguments string   `json:"arguments"`
}

type AudioDelta struct {
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
}

type Error struct {
	Error ErrorDetail `json:"error"`
}

type Unknown struct {
	Type EventType
	Raw  json.RawMessage
}

type Response struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *StatusDetails `json:"status_details"`
}

type StatusDetails struct {
	Type   string       `json:"type"`
	Reason string       `json:"reason"`
	Error  *ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// ErrorCode returns the error code reported in the status details, if any.
func (r Response) ErrorCode() string {
	if r.StatusDetails == nil || r.StatusDetails.Error == nil {
		return ""
	}
	if code := strings.TrimSpace(r.StatusDetails.Error.Code); code != "" {
		return code
	}
	return strings.TrimSpace(r.StatusDetails.Error.Type)
}

func (SessionCreated) EventType() EventType           { return EventSessionCreated }
func (SpeechStarted) EventType() EventType            { return EventSpeechStarted }
func (SpeechStopped) EventType() EventType            { return EventSpeechStopped }
func (InputTranscriptCompleted) EventType() EventType { return EventInputTranscriptCompleted }
func (InputTranscriptFailed) EventType() EventType    { return EventInputTranscriptFailed }
func (ResponseCreated) EventType() EventType          { return EventResponseCreated }
func (ResponseDone) EventType() EventType             { return EventResponseDone }
func (ResponseFailed) EventType() EventType           { return EventResponseFailed }
func (ResponseInterrupted) EventType() EventType      { return EventResponseInterrupted }
func (ResponseCanceled) EventType() EventType         { return EventResponseCanceled }
func (e AssistantTextDone) EventType() EventType      { return e.Source }
func (OutputItemDone) EventType() EventType           { return EventResponseOutputItemDone }
func (AudioDelta) EventType() EventType               { return EventResponseAudioDelta }
func (Error) EventType() EventType                    { return EventError }
func (e Unknown) EventType() EventType                { return e.Type }

func (SessionCreated) serverEvent()           {}
func (SpeechStarted) serverEvent()            {}
func (SpeechStopped) serverEvent()            {}
func (InputTranscriptCompleted) serverEvent() {}
func (InputTranscriptFailed) serverEvent()    {}
func (ResponseCreated) serverEvent()          {}
func (ResponseDone) serverEvent()             {}
func (ResponseFailed) serverEvent()           {}
func (ResponseInterrupted) serverEvent()      {}
func (ResponseCanceled) serverEvent()         {}
func (AssistantTextDone) serverEvent()        {}
func (OutputItemDone) serverEvent()           {}
func (AudioDelta) serverEvent()               {}
func (Error) serverEvent()                    {}
func (Unknown) serverEvent()                  {}

type envelope struct {
	Type EventType `json:"type"`
}

// ParseServerEvent decodes one upstream frame. Frames that are not JSON
// objects with a type field fail with ErrMalformedEvent.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch env.Type {
	case EventSessionCreated:
		return decode[SessionCreated](raw)
	case EventSpeechStarted:
		return decode[SpeechStarted](raw)
	case EventSpeechStopped:
		return decode[SpeechStopped](raw)
	case EventInputTranscriptCompleted:
		return decode[InputTranscriptCompleted](raw)
	case EventInputTranscriptFailed:
		return decode[InputTranscriptFailed](raw)
	case EventResponseCreated:
		return decode[ResponseCreated](raw)
	case EventResponseDone:
		return decode[ResponseDone](raw)
	case EventResponseFailed:
		return decode[ResponseFailed](raw)
	case EventResponseInterrupted:
		return decode[ResponseInterrupted](raw)
	case EventResponseCanceled, EventResponseCancelled:
		return decode[ResponseCanceled](raw)
	case EventResponseTextDone, EventResponseAudioTranscriptDone:
		evt, err := decode[AssistantTextDone](raw)
		if err != nil {
			return nil, err
		}
		evt.Source = env.Type
		return evt, nil
	case EventResponseOutputItemDone:
		return decode[OutputItemDone](raw)
	case EventResponseAudioDelta:
		return decode[AudioDelta](raw)
	case EventError:
		return decode[Error](raw)
	default:
		return Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decode[T ServerEvent](raw []byte) (T, error) {
	var evt T
	if err := json.Unmarshal(raw, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return evt, nil
}
