// Package protocol defines the JSON request and response messages exchanged
// with the client over the IPC channel
package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is one client command
type Request struct {
	Command    string `json:"command"`
	FrameData  string `json:"frame_data,omitempty"`
	Parameters Params `json:"parameters,omitempty"`
}

// Response is the reply to exactly one request. Data is set on success and
// Error on failure.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DecodeRequest parses one message. Anything that is not a JSON object is
// rejected.
func DecodeRequest(msg []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeResponse serializes a response
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}

// Success wraps a result payload
func Success(data any) *Response {
	return &Response{Success: true, Data: data}
}

// Failure builds a failure response with a human-readable reason
func Failure(format string, args ...any) *Response {
	return &Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// EncodeRequest serializes a request
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response. Data is left as generic JSON values.
func DecodeResponse(msg []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
