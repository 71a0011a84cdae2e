package utils

import (
	"encoding/json"
	"fmt"
)

// DecodePayload unmarshals a remote response body into T, adapted from the
// teacher's pkg/utils/encoding.go MarshalEntry/UnmarshalEvent pair (JSON is
// the only format wired; the teacher's MsgPack path was never implemented
// there either).
func DecodePayload[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("utils: cannot decode empty payload")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("utils: decode payload: %w", err)
	}
	return v, nil
}

// EncodePayload marshals v to bytes for a request body or response-cache
// entry.
func EncodePayload(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("utils: cannot encode nil payload")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("utils: encode payload: %w", err)
	}
	return data, nil
}
