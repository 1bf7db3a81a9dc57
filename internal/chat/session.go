// Package chat is the entry point to a realtime chat session: it signs a user
// in, and exposes the chat list, conversations, sending and read-marking.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/chatlist"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/outbox"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/realtime"
	"github.com/matheus3301/chatlink/internal/status"
	"github.com/matheus3301/chatlink/internal/thread"
	"go.uber.org/zap"
)

// ErrInvalidFriend is returned for a friend id of 0 or less.
var ErrInvalidFriend = errors.New("friend id must be positive")

// UserBinder is told about every sign-in before the connection opens.
type UserBinder interface {
	BindUser(userID int64) (reset bool, err error)
}

// Deps are the components a Session drives.
type Deps struct {
	Manager  *realtime.Manager
	ChatList *chatlist.Synchronizer
	Threads  *thread.Registry
	Outbox   *outbox.Sender
	// Binder is optional.
	Binder UserBinder
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Session composes the connection manager with the synchronizers.
type Session struct {
	mgr     *realtime.Manager
	list    *chatlist.Synchronizer
	threads *thread.Registry
	outbox  *outbox.Sender
	binder  UserBinder
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSession creates a session. Nothing is connected until Login.
func NewSession(d Deps) *Session {
	return &Session{
		mgr:     d.Manager,
		list:    d.ChatList,
		threads: d.Threads,
		outbox:  d.Outbox,
		binder:  d.Binder,
		bus:     d.Bus,
		logger:  logging.OrNop(d.Logger),
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	UserID      int64
	State       status.State
	Connected   bool
	Unread      int
	OpenThreads []int64
}

// Status reports who is signed in and whether the connection is open.
func (s *Session) Status() Status {
	return Status{
		UserID:      s.mgr.UserID(),
		State:       s.mgr.State(),
		Connected:   s.mgr.IsConnected(),
		Unread:      s.list.Unread(),
		OpenThreads: s.threads.OpenIDs(),
	}
}

// Login signs userID in and connects. Signing in a different user closes
// every open conversation first. userID 0 is the same as Logout.
func (s *Session) Login(ctx context.Context, userID int64) error {
	if userID < 0 {
		return fmt.Errorf("user id %d: must not be negative", userID)
	}
	if userID == 0 {
		return s.Logout(ctx)
	}
	if prev := s.mgr.UserID(); prev != userID {
		s.threads.CloseAll()
		s.list.Reset()
	}
	if s.binder != nil {
		if _, err := s.binder.BindUser(userID); err != nil {
			return fmt.Errorf("bind cache: %w", err)
		}
	}
	s.logger.Info("signing in", zap.Int64("user_id", userID))
	return s.mgr.SetUser(ctx, userID)
}

// Logout closes every conversation and the connection, and forgets the
// chat list.
func (s *Session) Logout(ctx context.Context) error {
	s.threads.CloseAll()
	s.logger.Info("signing out", zap.Int64("user_id", s.mgr.UserID()))
	err := s.mgr.SetUser(ctx, 0)
	s.list.Reset()
	return err
}

// Chats returns the chat list, most recent first.
func (s *Session) Chats() []chatlist.Summary {
	return s.list.Summaries()
}

// RefreshChats asks the server for a fresh chat list.
func (s *Session) RefreshChats() bool {
	return s.list.Refresh()
}

// OpenThread starts following the conversation with friendID and returns
// what is known of it so far.
func (s *Session) OpenThread(friendID int64) ([]protocol.Message, error) {
	if friendID <= 0 {
		return nil, ErrInvalidFriend
	}
	return s.threads.Open(friendID).Messages(), nil
}

// CloseThread stops following the conversation with friendID.
func (s *Session) CloseThread(friendID int64) {
	s.threads.Close(friendID)
}

// Send writes a message straight to the connection. It reports false when
// the connection is not open; nothing is retried.
func (s *Session) Send(friendID int64, body, attachmentURL string, kind protocol.MessageKind) (bool, error) {
	if friendID <= 0 {
		return false, ErrInvalidFriend
	}
	return outbox.Send(s.mgr, friendID, body, attachmentURL, kind), nil
}

// Queue stores a message in the outbox; it is written once the connection
// is open and confirmed when the server echoes it.
func (s *Session) Queue(friendID int64, body, attachmentURL string, kind protocol.MessageKind) (string, error) {
	if friendID <= 0 {
		return "", ErrInvalidFriend
	}
	return s.outbox.Queue(friendID, body, attachmentURL, kind)
}

// MarkRead marks the conversation with friendID read: it sends
// mark_messages_read, zeroes the local unread counter and asks for a fresh
// chat list. The three steps are not atomic. Reports whether the frame was
// written.
func (s *Session) MarkRead(friendID int64) (bool, error) {
	if friendID <= 0 {
		return false, ErrInvalidFriend
	}
	sent := s.mgr.Send(protocol.MarkMessagesRead{FriendID: friendID})
	s.bus.Emit(bus.KindResetUnread, chatlist.ResetUnread{FriendID: friendID})
	s.list.Refresh()
	return sent, nil
}
