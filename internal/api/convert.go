package api

import (
	"time"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/chatlist"
	"github.com/matheus3301/chatlink/internal/outbox"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/realtime"
	"github.com/matheus3301/chatlink/internal/status"
	"github.com/matheus3301/chatlink/internal/store"
	"github.com/matheus3301/chatlink/internal/thread"
	"google.golang.org/protobuf/types/known/structpb"
)

// Struct field readers. Numbers arrive as float64 on the wire.

func intField(s *structpb.Struct, key string) int64 {
	if s == nil {
		return 0
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return 0
	}
	return int64(v.GetNumberValue())
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil {
		return false
	}
	return s.GetFields()[key].GetBoolValue()
}

// IntField reads an integer field from a response.
func IntField(s *structpb.Struct, key string) int64 { return intField(s, key) }

// StringField reads a string field from a response.
func StringField(s *structpb.Struct, key string) string { return stringField(s, key) }

// BoolField reads a boolean field from a response.
func BoolField(s *structpb.Struct, key string) bool { return boolField(s, key) }

// ListField returns the struct elements of a list field.
func ListField(s *structpb.Struct, key string) []*structpb.Struct {
	if s == nil {
		return nil
	}
	var out []*structpb.Struct
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		if st := v.GetStructValue(); st != nil {
			out = append(out, st)
		}
	}
	return out
}

func toList[T any](items []T, conv func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return out
}

func summaryMap(s chatlist.Summary) map[string]any {
	return map[string]any{
		"friendId":      s.FriendID,
		"friendName":    s.FriendName,
		"firstName":     s.FirstName,
		"lastMessage":   s.LastMessage,
		"lastTimeStamp": s.LastTimeStamp,
		"unreadCount":   s.UnreadCount,
		"profileImage":  s.ProfileImage,
		"hasAttachment": s.HasAttachment,
	}
}

func cachedChatMap(c store.Chat) map[string]any {
	return map[string]any{
		"friendId":      c.FriendID,
		"friendName":    c.FriendName,
		"firstName":     chatlist.FirstName(c.FriendName),
		"lastMessage":   c.LastMessage,
		"lastTimeStamp": c.LastTimeStamp,
		"unreadCount":   c.UnreadCount,
		"profileImage":  c.ProfileImage,
		"hasAttachment": c.HasAttachment,
	}
}

func instantMillis(i protocol.Instant) int64 {
	if i.IsZero() {
		return 0
	}
	return i.UnixMilli()
}

func messageMap(m protocol.Message) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"senderId":    m.SenderID(),
		"recipientId": m.RecipientID(),
		"body":        m.Body,
		"files":       m.Files,
		"clientMsgId": m.ClientMsgID,
		"status":      string(m.Status),
		"createdAt":   instantMillis(m.CreatedAt),
	}
}

func cachedMessageMap(m store.Message) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"senderId":    m.SenderID,
		"recipientId": m.RecipientID,
		"body":        m.Body,
		"files":       m.Files,
		"clientMsgId": m.ClientMsgID,
		"status":      m.Status,
		"createdAt":   m.CreatedAt,
	}
}

func searchResultMap(r store.SearchResult) map[string]any {
	m := cachedMessageMap(r.Message)
	m["friendId"] = r.Message.FriendID
	m["snippet"] = r.Snippet
	return m
}

// eventMap renders a bus event for WatchEvents. Unknown payloads carry only
// their kind.
func eventMap(evt bus.Event) map[string]any {
	out := map[string]any{
		"kind":      string(evt.Kind),
		"timestamp": evt.Timestamp.UnixMilli(),
	}
	if p := payloadMap(evt.Payload); p != nil {
		out["payload"] = p
	}
	return out
}

func payloadMap(payload any) map[string]any {
	switch p := payload.(type) {
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}
	case realtime.ReconnectNotice:
		return map[string]any{"userId": p.UserID, "attempt": p.Attempt, "delayMs": p.Delay.Milliseconds()}
	case chatlist.Updated:
		return map[string]any{"chats": toList(p.Summaries, summaryMap), "reset": p.Reset}
	case chatlist.ResetUnread:
		return map[string]any{"friendId": p.FriendID}
	case thread.Updated:
		return map[string]any{"friendId": p.FriendID, "messages": toList(p.Messages, messageMap)}
	case outbox.Event:
		return map[string]any{
			"clientMsgId": p.ClientMsgID,
			"friendId":    p.FriendID,
			"messageId":   p.MessageID,
			"status":      p.Status,
			"error":       p.Error,
		}
	case *protocol.FriendList:
		return map[string]any{"count": len(p.Items)}
	case *protocol.SingleChat:
		return map[string]any{"count": len(p.Messages)}
	case *protocol.ChatMessage:
		return messageMap(p.Message)
	case *protocol.StatusUpdate:
		return map[string]any{"messageId": p.MessageID, "status": string(p.Status)}
	case *protocol.MarkedRead:
		return map[string]any{"friendId": p.FriendID}
	}
	return nil
}

// FormatMillis renders an epoch-millisecond timestamp for display.
func FormatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// LoginRequest builds the Login request for userID.
func LoginRequest(userID int64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"userId": userID})
}

// FriendRequest builds a request naming one friend.
func FriendRequest(friendID int64, extra map[string]any) (*structpb.Struct, error) {
	fields := map[string]any{"friendId": friendID}
	for k, v := range extra {
		fields[k] = v
	}
	return structpb.NewStruct(fields)
}
