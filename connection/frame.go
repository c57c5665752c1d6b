package connection

import (
	"bytes"
	"encoding/json"
)

// decodeNotification reports whether data is a push-notification frame and
// decodes it if so. A push notification has no top-level id and a result
// object that itself carries id, action and result. Everything else, direct
// replies included, fails this decode.
func decodeNotification(data []byte) (Notification, bool) {
	var env struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Notification{}, false
	}
	if fieldPresent(env.ID) || !isObject(env.Result) {
		return Notification{}, false
	}

	var inner struct {
		ID     *string         `json:"id"`
		Action *Action         `json:"action"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(env.Result, &inner); err != nil {
		return Notification{}, false
	}
	if inner.ID == nil || inner.Action == nil || !fieldPresent(inner.Result) {
		return Notification{}, false
	}

	return Notification{
		ID:     *inner.ID,
		Action: *inner.Action,
		Result: inner.Result,
	}, true
}

// fieldPresent reports whether a raw field was set to a non-null value.
func fieldPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// isObject reports whether a raw field holds a JSON object.
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
