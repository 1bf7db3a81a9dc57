package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InboundType is the type tag of a frame received from the server.
type InboundType string

const (
	TypeFriendList   InboundType = "friend_list"
	TypeSingleChat   InboundType = "single_chat"
	TypeChat         InboundType = "chat"
	TypeStatusUpdate InboundType = "message_status_update"
	TypeMarkedRead   InboundType = "messages_marked_read"

	// Older servers confirm read receipts under this name.
	typeMarkedReadResponse InboundType = "messages_marked_read_response"
)

// OutboundType is the type tag of a frame sent to the server.
type OutboundType string

const (
	TypeGetChatList      OutboundType = "get_chat_list"
	TypeGetSingleChat    OutboundType = "get_single_chat"
	TypeSendMessage      OutboundType = "send_message"
	TypeMarkMessagesRead OutboundType = "mark_messages_read"
)

var (
	// ErrMalformed is returned for frames that are not a JSON envelope or
	// whose payload does not match their type.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownType is returned for well-formed frames with an unrecognised tag.
	ErrUnknownType = errors.New("unknown frame type")
)

// Inbound is a decoded server frame. The concrete type is one of
// *FriendList, *SingleChat, *ChatMessage, *StatusUpdate or *MarkedRead.
type Inbound interface {
	Type() InboundType
	// RequestID is the correlation id echoed by the server, if any.
	RequestID() string
}

type inboundMeta struct {
	requestID string
}

func (m inboundMeta) RequestID() string { return m.requestID }

// FriendList is the chat-list snapshot.
type FriendList struct {
	inboundMeta
	Items []FriendItem
}

func (*FriendList) Type() InboundType { return TypeFriendList }

// SingleChat is the snapshot of one conversation.
type SingleChat struct {
	inboundMeta
	Messages []Message
}

func (*SingleChat) Type() InboundType { return TypeSingleChat }

// ChatMessage announces one new message.
type ChatMessage struct {
	inboundMeta
	Message Message
}

func (*ChatMessage) Type() InboundType { return TypeChat }

// StatusUpdate changes the delivery status of one message.
type StatusUpdate struct {
	inboundMeta
	MessageID int64  `json:"messageId"`
	Status    Status `json:"status"`
}

func (*StatusUpdate) Type() InboundType { return TypeStatusUpdate }

// MarkedRead confirms that a conversation was marked read.
type MarkedRead struct {
	inboundMeta
	FriendID int64 `json:"friendId"`
}

func (*MarkedRead) Type() InboundType { return TypeMarkedRead }

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Decode parses one inbound frame. Every error wraps ErrMalformed or ErrUnknownType.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	meta := inboundMeta{requestID: env.RequestID}

	switch InboundType(env.Type) {
	case TypeFriendList:
		f := &FriendList{inboundMeta: meta}
		if err := decodePayload(env, &f.Items, true); err != nil {
			return nil, err
		}
		return f, nil
	case TypeSingleChat:
		f := &SingleChat{inboundMeta: meta}
		if err := decodePayload(env, &f.Messages, true); err != nil {
			return nil, err
		}
		return f, nil
	case TypeChat:
		f := &ChatMessage{inboundMeta: meta}
		if err := decodePayload(env, &f.Message, false); err != nil {
			return nil, err
		}
		return f, nil
	case TypeStatusUpdate:
		f := &StatusUpdate{inboundMeta: meta}
		if err := decodePayload(env, f, false); err != nil {
			return nil, err
		}
		return f, nil
	case TypeMarkedRead, typeMarkedReadResponse:
		f := &MarkedRead{inboundMeta: meta}
		if err := decodePayload(env, f, false); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// decodePayload unmarshals env.Payload into v. A missing payload is accepted
// only for list frames, where it means an empty list.
func decodePayload(env envelope, v any, nullable bool) error {
	p := bytes.TrimSpace(env.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		if nullable {
			return nil
		}
		return fmt.Errorf("%w: %s without payload", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(p, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

// Outbound is a frame the client sends. The concrete type is one of
// GetChatList, GetSingleChat, SendMessage or MarkMessagesRead.
type Outbound interface {
	Type() OutboundType
}

// GetChatList requests a friend_list snapshot.
type GetChatList struct{}

func (GetChatList) Type() OutboundType { return TypeGetChatList }

// GetSingleChat requests a single_chat snapshot for one friend.
type GetSingleChat struct {
	FriendID int64 `json:"friendId"`
}

func (GetSingleChat) Type() OutboundType { return TypeGetSingleChat }

// SendMessage sends a chat message. Build it with NewSendMessage.
type SendMessage struct {
	FriendID    int64       `json:"friendId"`
	Body        string      `json:"message"`
	Kind        MessageKind `json:"messageType"`
	Files       string      `json:"files,omitempty"`
	ClientMsgID string      `json:"clientMsgId,omitempty"`
}

func (SendMessage) Type() OutboundType { return TypeSendMessage }

// MarkMessagesRead marks every message from a friend as read.
type MarkMessagesRead struct {
	FriendID int64 `json:"friendId"`
}

func (MarkMessagesRead) Type() OutboundType { return TypeMarkMessagesRead }

// NewSendMessage builds a send_message frame. The kind defaults to image when
// an attachment URL is given and to text otherwise; a blank URL is dropped so
// the frame never carries an empty attachment.
func NewSendMessage(friendID int64, body, attachmentURL string, kind MessageKind) SendMessage {
	attachmentURL = strings.TrimSpace(attachmentURL)
	if kind == "" {
		kind = KindText
		if attachmentURL != "" {
			kind = KindImage
		}
	}
	return SendMessage{
		FriendID: friendID,
		Body:     body,
		Kind:     kind,
		Files:    attachmentURL,
	}
}

// Encode serialises an outbound frame, merging in the type tag, the sending
// user's id and the correlation id. Callers never set userId themselves.
func Encode(out Outbound, userID int64, requestID string) ([]byte, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.Type(), err)
	}
	if fields["type"], err = json.Marshal(out.Type()); err != nil {
		return nil, err
	}
	if fields["userId"], err = json.Marshal(userID); err != nil {
		return nil, err
	}
	if requestID != "" {
		if fields["requestId"], err = json.Marshal(requestID); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}
