package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

type MessageType string

const (
	MessageTypeJoin         MessageType = "join"
	MessageTypeRoomCreated  MessageType = "room_created"
	MessageTypeRoomJoined   MessageType = "room_joined"
	MessageTypeStartCall    MessageType = "start_call"
	MessageTypeOffer        MessageType = "webrtc_offer"
	MessageTypeAnswer       MessageType = "webrtc_answer"
	MessageTypeICECandidate MessageType = "webrtc_ice_candidate"
	MessageTypeError        MessageType = "error"
)

// envelope is the frame format on the wire: {"type": "...", "payload": {...}}.
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is one of JoinRequest, StartCallRequest, OfferRequest,
// AnswerRequest or ICECandidateRequest.
type Inbound interface {
	Type() MessageType
}

type JoinRequest struct {
	Room string `json:"room"`
}

type StartCallRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
}

// OfferRequest carries an SDP offer for a single receiver. SDP is kept as raw
// JSON: browsers send either the SDP string or a full RTCSessionDescription.
type OfferRequest struct {
	RoomID     string          `json:"roomId"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	SDP        json.RawMessage `json:"sdp"`
}

type AnswerRequest struct {
	RoomID     string          `json:"roomId"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	SDP        json.RawMessage `json:"sdp"`
}

// ICECandidateRequest is relayed verbatim; only the routing fields are
// decoded.
type ICECandidateRequest struct {
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`

	Raw json.RawMessage `json:"-"`
}

func (JoinRequest) Type() MessageType         { return MessageTypeJoin }
func (StartCallRequest) Type() MessageType    { return MessageTypeStartCall }
func (OfferRequest) Type() MessageType        { return MessageTypeOffer }
func (AnswerRequest) Type() MessageType       { return MessageTypeAnswer }
func (ICECandidateRequest) Type() MessageType { return MessageTypeICECandidate }

// ParseInbound decodes one wire frame into its typed inbound message. All
// failures are returned as *ProtocolError.
func ParseInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := decodeSingleJSON(data, &env); err != nil {
		return nil, badMessage("invalid json: %v", err)
	}
	if env.Type == "" {
		return nil, badMessage("missing type")
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return nil, badMessage("%s: missing payload", env.Type)
	}

	switch env.Type {
	case MessageTypeJoin:
		var msg JoinRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, badMessage("%s: %v", env.Type, err)
		}
		if msg.Room == "" {
			return nil, badMessage("%s: missing room", env.Type)
		}
		return msg, nil
	case MessageTypeStartCall:
		var msg StartCallRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, badMessage("%s: %v", env.Type, err)
		}
		if msg.RoomID == "" {
			return nil, badMessage("%s: missing roomId", env.Type)
		}
		return msg, nil
	case MessageTypeOffer:
		var msg OfferRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, badMessage("%s: %v", env.Type, err)
		}
		if err := validateDescription(env.Type, msg.ReceiverID, msg.SDP); err != nil {
			return nil, err
		}
		return msg, nil
	case MessageTypeAnswer:
		var msg AnswerRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, badMessage("%s: %v", env.Type, err)
		}
		if err := validateDescription(env.Type, msg.ReceiverID, msg.SDP); err != nil {
			return nil, err
		}
		return msg, nil
	case MessageTypeICECandidate:
		var msg ICECandidateRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, badMessage("%s: %v", env.Type, err)
		}
		if msg.ReceiverID == "" {
			return nil, badMessage("%s: missing receiverId", env.Type)
		}
		msg.Raw = append(json.RawMessage(nil), env.Payload...)
		return msg, nil
	default:
		return nil, badMessage("unsupported message type %q", env.Type)
	}
}

func validateDescription(t MessageType, receiverID string, sdp json.RawMessage) error {
	if receiverID == "" {
		return badMessage("%s: missing receiverId", t)
	}
	if len(sdp) == 0 || bytes.Equal(sdp, []byte("null")) || bytes.Equal(sdp, []byte(`""`)) {
		return badMessage("%s: missing sdp", t)
	}
	return nil
}

func decodeSingleJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// Outbound is one of RoomCreated, RoomJoined, StartCall, Offer, Answer,
// ICECandidate or Error.
type Outbound interface {
	Type() MessageType
}

type RoomCreated struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

type RoomJoined struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

type StartCall struct {
	SenderID string `json:"senderId"`
}

type Offer struct {
	SDP      json.RawMessage `json:"sdp"`
	SenderID string          `json:"senderId"`
}

type Answer struct {
	SDP      json.RawMessage `json:"sdp"`
	SenderID string          `json:"senderId"`
}

// ICECandidate re-emits the sender's original payload byte for byte.
type ICECandidate struct {
	Payload json.RawMessage
}

func (c ICECandidate) MarshalJSON() ([]byte, error) {
	if len(c.Payload) == 0 {
		return []byte("null"), nil
	}
	return c.Payload, nil
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (RoomCreated) Type() MessageType  { return MessageTypeRoomCreated }
func (RoomJoined) Type() MessageType   { return MessageTypeRoomJoined }
func (StartCall) Type() MessageType    { return MessageTypeStartCall }
func (Offer) Type() MessageType        { return MessageTypeOffer }
func (Answer) Type() MessageType       { return MessageTypeAnswer }
func (ICECandidate) Type() MessageType { return MessageTypeICECandidate }
func (Error) Type() MessageType        { return MessageTypeError }

// EncodeOutbound renders msg as a wire frame.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}
