// Package signaling drives one answering-side WebRTC negotiation over a
// WebSocket relay: it turns relay messages into engine calls and engine
// events into relay messages.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeInitiation MessageType = "initiation"
	MsgTypeOffer      MessageType = "offer"
	MsgTypeAnswer     MessageType = "answer"
	MsgTypeCandidate  MessageType = "candidate"
	MsgTypeReqICE     MessageType = "reqice"
)

// initiationWireType is the kind sent when the channel opens. Relays match it
// case-sensitively in this spelling; receiving accepts any case.
const initiationWireType MessageType = "Initiation"

// Free-text payloads of the marker messages.
const (
	InitiationText = "Initiation of WebRTC"
	ReqICEText     = "Start sending ice candidates"
)

var (
	ErrEmptyPayload           = errors.New("empty payload")
	ErrUnsupportedDescription = errors.New("unsupported session description")
)

// Message is the JSON structure exchanged over the WebSocket. Data carries a
// JSON document whose schema depends on Type.
type Message struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// Kind returns the lower-cased type, so "Initiation" and "initiation" match.
func (m Message) Kind() MessageType {
	return MessageType(strings.ToLower(strings.TrimSpace(string(m.Type))))
}

// Known reports whether the kind is one this package handles.
func (m Message) Known() bool {
	switch m.Kind() {
	case MsgTypeInitiation, MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate, MsgTypeReqICE:
		return true
	}
	return false
}

// Encode serializes a Message into a WebSocket text frame.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a WebSocket text frame into a Message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	return msg, nil
}

// EncodeDescription serializes a session description as an offer/answer payload.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeDescription parses an offer/answer payload. Only offers and answers
// with a non-empty SDP are accepted.
func DecodeDescription(payload string) (webrtc.SessionDescription, error) {
	if strings.TrimSpace(payload) == "" {
		return webrtc.SessionDescription{}, ErrEmptyPayload
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("malformed session description: %w", err)
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer:
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q", ErrUnsupportedDescription, desc.Type.String())
	}
	if desc.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty sdp", ErrUnsupportedDescription)
	}
	return desc, nil
}

// EncodeCandidate serializes a local candidate. A nil candidate is the
// end-of-candidates marker and encodes to the empty payload.
func EncodeCandidate(c *webrtc.ICECandidateInit) (string, error) {
	if c == nil {
		return "", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeCandidate parses a candidate payload. eoc is true for the
// end-of-candidates marker: an empty payload, JSON null, or an init whose
// candidate line is empty.
func DecodeCandidate(payload string) (init webrtc.ICECandidateInit, eoc bool, err error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "null" {
		return webrtc.ICECandidateInit{}, true, nil
	}

	if err := json.Unmarshal([]byte(payload), &init); err != nil {
		return webrtc.ICECandidateInit{}, false, fmt.Errorf("malformed candidate: %w", err)
	}
	return init, init.Candidate == "", nil
}
