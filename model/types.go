package model

import (
	"encoding/json"
	"fmt"
)

// Function is the set of operations an external client may request.
type Function string

const (
	FunctionAuth             Function = "AUTH"
	FunctionWhitelistRequest Function = "WHITELIST_REQUEST"
)

// ParseFunction validates a raw function string from the wire.
func ParseFunction(raw string) (Function, error) {
	switch Function(raw) {
	case FunctionAuth:
		return FunctionAuth, nil
	case FunctionWhitelistRequest:
		return FunctionWhitelistRequest, nil
	default:
		return "", fmt.Errorf("unknown function %q", raw)
	}
}

// ResponseType identifies the kind of a server reply or push.
type ResponseType string

const (
	ResponseComplete        ResponseType = "COMPLETE"
	ResponseAuthSuccess     ResponseType = "AUTH_SUCCESS"
	ResponseAuthFail        ResponseType = "AUTH_FAIL"
	ResponseWhitelistUpdate ResponseType = "WHITELIST_UPDATE"
)

// RelayMessage is one inbound frame from an external client. Data stays raw
// until the function dispatch decides how to decode it.
type RelayMessage struct {
	ID        string          `json:"id"`
	Function  string          `json:"function"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RelayResponse is one outbound frame, either a direct reply or a broadcast.
type RelayResponse struct {
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Message   ResponseType `json:"message"`
	Data      *UpdateData  `json:"data,omitempty"`
}

// UpdateData is the payload of a WHITELIST_UPDATE broadcast.
type UpdateData struct {
	Word       string `json:"word"`
	IsUsername bool   `json:"is_username"`
}

// WhitelistRequest is the data payload of a WHITELIST_REQUEST frame. Missing
// fields decode to zero values; clients are not trusted to send all of them.
type WhitelistRequest struct {
	Requests      []string `json:"requests"`
	Message       string   `json:"message"`
	Username      string   `json:"username"`
	IsUsernameReq bool     `json:"is_username_req"`
	ChannelName   string   `json:"channel_name"`
}
