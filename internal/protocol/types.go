// Package protocol defines the frames exchanged with the chat server over the
// realtime connection, and the single place they are encoded and decoded.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// MessageKind is the outbound message type.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// Instant is a server timestamp. The server has been seen sending RFC 3339
// strings, epoch milliseconds and empty strings, so all three decode.
type Instant struct {
	time.Time
}

// At wraps t as an Instant.
func At(t time.Time) Instant {
	return Instant{Time: t}
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		i.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("instant: %w", err)
		}
		i.Time = time.UnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("instant: %w", err)
	}
	i.Time = t
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(i.Time.Format(time.RFC3339Nano))
}

// UserStub is the sender or recipient attached to a message.
type UserStub struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	CountryCode  string `json:"countryCode,omitempty"`
	ContactNo    string `json:"contactNo,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Message is one chat turn as the server describes it.
type Message struct {
	ID          int64     `json:"id"`
	From        *UserStub `json:"from,omitempty"`
	To          *UserStub `json:"to,omitempty"`
	Body        string    `json:"message"`
	Files       string    `json:"files,omitempty"`
	ClientMsgID string    `json:"clientMsgId,omitempty"`
	CreatedAt   Instant   `json:"createdAt"`
	UpdatedAt   Instant   `json:"updatedAt"`
	Status      Status    `json:"status"`
}

// SenderID returns the sender's user id, or 0 when the server omitted it.
func (m *Message) SenderID() int64 {
	if m.From == nil {
		return 0
	}
	return m.From.ID
}

// RecipientID returns the recipient's user id, or 0 when the server omitted it.
func (m *Message) RecipientID() int64 {
	if m.To == nil {
		return 0
	}
	return m.To.ID
}

// Involves reports whether userID is the sender or the recipient.
func (m *Message) Involves(userID int64) bool {
	return userID != 0 && (m.SenderID() == userID || m.RecipientID() == userID)
}

// Counterpart returns the participant that is not self. When self is not a
// participant it returns the sender.
func (m *Message) Counterpart(self int64) int64 {
	if m.SenderID() == self {
		return m.RecipientID()
	}
	return m.SenderID()
}

// FriendItem is one row of a friend_list snapshot.
type FriendItem struct {
	FriendID      int64  `json:"friendId"`
	FriendName    string `json:"friendName"`
	LastMessage   string `json:"lastMessage"`
	LastTimeStamp string `json:"lastTimeStamp"`
	UnreadCount   int    `json:"unreadCount"`
	ProfileImage  string `json:"profileImage"`
	Files         string `json:"files"`
}

// SortByCreatedAt orders messages oldest first. Messages with equal
// timestamps keep their relative order.
func SortByCreatedAt(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt.Time)
	})
}
