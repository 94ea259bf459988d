package protocol

import "encoding/json"

// NegotiateResponse is the payload returned by the negotiation endpoint
// before a client opens its transport. Url is the endpoint base path and
// ClientId the identity the client must present on every subsequent request.
type NegotiateResponse struct {
	URL      string `json:"Url"`
	ClientID string `json:"ClientId"`
}

// Frame is one downstream delivery unit spoken by every transport: the
// long polling response body, one server-sent event, or one WebSocket text
// frame. MessageId is the cursor the client presents to resume delivery
// after the last message in the frame. Groups carries the client's current
// group memberships so reconnecting clients can re-present them.
type Frame struct {
	MessageID uint64            `json:"MessageId"`
	Messages  []json.RawMessage `json:"Messages"`
	Groups    []string          `json:"Groups,omitempty"`
}

// NewFrame builds a frame from raw stored payloads. Messages is always
// non-nil so empty frames marshal with an empty array.
func NewFrame(cursor uint64, payloads [][]byte, groups []string) Frame {
	msgs := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, json.RawMessage(p))
	}
	return Frame{MessageID: cursor, Messages: msgs, Groups: groups}
}
