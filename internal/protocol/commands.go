package protocol

// CommandType identifies commands sent to the upstream realtime service.
type CommandType string

const (
	CommandSessionUpdate      CommandType = "session.update"
	CommandInputAudioAppend   CommandType = "input_audio_buffer.append"
	CommandConversationCreate CommandType = "conversation.item.create"
	CommandResponseCreate     CommandType = "response.create"
)

// ItemType identifies conversation item variants.
type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
)

type SessionUpdate struct {
	Type    CommandType   `json:"type"`
	Session SessionConfig `json:"session"`
	EventID string        `json:"event_id,omitempty"`
}

type SessionConfig struct {
	Instructions            string              `json:"instructions,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	InputAudioNoiseRed      *TypedOption        `json:"input_audio_noise_reduction,omitempty"`
	InputAudioEchoCancel    *TypedOption        `json:"input_audio_echo_cancellation,omitempty"`
	InputAudioTranscription *InputTranscription `json:"input_audio_transcription,omitempty"`
	Voice                   *Voice              `json:"voice,omitempty"`
	Tools                   []Tool              `json:"tools,omitempty"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	RemoveFillerWords bool    `json:"remove_filler_words"`
}

type TypedOption struct {
	Type string `json:"type"`
}

type InputTranscription struct {
	Model string `json:"model"`
}

type Voice struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Temperature float64 `json:"temperature,omitempty"`
}

type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type InputAudioAppend struct {
	Type  CommandType `json:"type"`
	Audio string      `json:"audio"`
}

type ConversationItemCreate struct {
	Type CommandType      `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type      ItemType      `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreate struct {
	Type     CommandType      `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

type ResponseOptions struct {
	Instructions   string   `json:"instructions,omitempty"`
	Modalities     []string `json:"modalities,omitempty"`
	CancelPrevious bool     `json:"cancel_previous,omitempty"`
}

// NewSystemMessage builds a conversation item carrying system text.
func NewSystemMessage(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: CommandConversationCreate,
		Item: ConversationItem{
			Type:    ItemMessage,
			Role:    "system",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func NewFunctionCall(callID, name, arguments string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: CommandConversationCreate,
		Item: ConversationItem{
			Type:      ItemFunctionCall,
			CallID:    callID,
			Name:      name,
			Arguments: arguments,
		},
	}
}

func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: CommandConversationCreate,
		Item: ConversationItem{
			Type:   ItemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}
