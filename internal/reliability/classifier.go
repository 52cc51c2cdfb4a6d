package reliability

import (
	"strings"
	"time"
)

// CodeActiveResponse is reported when a response.create races an
// in-progress response.
const CodeActiveResponse = "conversation_already_has_active_response"

// IsRetryableHTTPStatus classifies handshake statuses worth another dial.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsActiveResponseConflict reports the transient "already has an active
// response" race. The in-flight response is still running.
func IsActiveResponseConflict(code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), CodeActiveResponse)
}

// IsSynthesisFailure classifies upstream codes that mean the selected voice
// could not synthesize audio, e.g. speech_synthesis_error or
// synthesis_failed.
func IsSynthesisFailure(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	return strings.Contains(code, "synthesis") || strings.Contains(code, "tts_") || code == "voice_not_available"
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
