package codec

import "encoding/json"

// InboundType discriminates an incoming wire envelope.
type InboundType string

const (
	TypePing        InboundType = "ping"
	TypeSend        InboundType = "send"
	TypeSubscribe   InboundType = "subscribe"
	TypeUnsubscribe InboundType = "unsubscribe"
)

// Message is the opaque payload carried by send/subscribe/unsubscribe
// envelopes. Every byte field travels as base64; the server never decodes
// content or contentIV beyond checking that they parse.
type Message struct {
	Nonce     uint64 `json:"nonce"`
	QueueID   string `json:"queueId"`
	Signature string `json:"signature"`
	Content   string `json:"content"`
	ContentIV string `json:"contentIV"`
}

// Inbound is the envelope shape clients send. Only Type is mandatory; Message
// is required for send/subscribe/unsubscribe and absent for ping.
type Inbound struct {
	Type    InboundType `json:"type"`
	Message *Message    `json:"message,omitempty"`
}

// ParseInbound decodes one text frame. A JSON syntax error, a missing type
// discriminator, or a missing "message" field on a type that requires one
// is a ParseError; the caller maps that uniformly to Status(false).
func ParseInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, &ParseError{Cause: err}
	}
	if in.Type == "" {
		return Inbound{}, &ParseError{Cause: errEmptyType}
	}
	if in.Message == nil && in.Type != TypePing {
		return Inbound{}, &ParseError{Cause: errMissingMessage}
	}
	return in, nil
}

// ParseError wraps a malformed or undiscriminated envelope.
type ParseError struct{ Cause error }

func (e *ParseError) Error() string { return "codec: parse error: " + e.Cause.Error() }
func (e *ParseError) Unwrap() error { return e.Cause }

var errEmptyType = emptyTypeErr{}
var errMissingMessage = missingMessageErr{}

type emptyTypeErr struct{}

func (emptyTypeErr) Error() string { return "missing type discriminator" }

type missingMessageErr struct{}

func (missingMessageErr) Error() string { return "missing message field" }

// Status is the boolean acknowledgment body of a "response" envelope.
type Status struct {
	Status bool `json:"status"`
}

// EventBody is the "response" payload of an outgoing "event" envelope. It
// carries either a freshly delivered Message (Type == "new") or a backlog
// boundary marker (Type == "wait").
type EventBody struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	QueueID string   `json:"queueId,omitempty"`
}

// outbound mirrors the exact wire shapes of §6: {"type":"response",...} and
// {"type":"event",...}. Two distinct constructors keep the JSON tags exact
// (omitempty on the field the other envelope kind doesn't use).
type responseEnvelope struct {
	Type     string `json:"type"`
	Response Status `json:"response"`
}

type eventEnvelope struct {
	Type     string    `json:"type"`
	Response EventBody `json:"response"`
}

// MarshalResponse renders {"type":"response","response":{"status":...}}.
func MarshalResponse(ok bool) []byte {
	b, _ := json.Marshal(responseEnvelope{Type: "response", Response: Status{Status: ok}})
	return b
}

// MarshalEventNew renders {"type":"event","response":{"type":"new","message":...}}.
func MarshalEventNew(msg Message) []byte {
	b, _ := json.Marshal(eventEnvelope{Type: "event", Response: EventBody{Type: "new", Message: &msg}})
	return b
}

// MarshalEventWait renders {"type":"event","response":{"type":"wait","queueId":...}}.
func MarshalEventWait(queueIDB64 string) []byte {
	b, _ := json.Marshal(eventEnvelope{Type: "event", Response: EventBody{Type: "wait", QueueID: queueIDB64}})
	return b
}
