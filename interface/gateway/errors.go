package gateway

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// DefaultErrorMessage はサーバーがメッセージを返さなかった場合の文言です。
const DefaultErrorMessage = "An unknown error occurred."

// APIError は 2xx 以外の REST レスポンスです。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// newAPIError はレスポンスボディの error / detail からメッセージを取り出します。
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error  json.RawMessage `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	msg := DefaultErrorMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, raw := range []json.RawMessage{payload.Error, payload.Detail} {
			if len(raw) == 0 || string(raw) == "null" {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				if s != "" {
					msg = s
					break
				}
				continue
			}
			msg = string(raw)
			break
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}
