// Package chatlist keeps the signed-in user's chat list in step with the
// realtime connection.
package chatlist

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/metrics"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/status"
	"go.uber.org/zap"
)

// Sender is the part of the connection manager the synchronizers need.
type Sender interface {
	Send(out protocol.Outbound) bool
	UserID() int64
}

// Summary is one row of the chat list.
type Summary struct {
	FriendID      int64
	FriendName    string
	FirstName     string
	LastMessage   string
	LastTimeStamp string
	UnreadCount   int
	ProfileImage  string
	HasAttachment bool
}

// ResetUnread is the payload of chatlist.reset_unread events.
type ResetUnread struct {
	FriendID int64
}

// Updated is the payload of chatlist.updated events. Reset marks the empty
// list published when the signed-in user goes away.
type Updated struct {
	Summaries []Summary
	Reset     bool
}

// Synchronizer owns the ordered chat list, most recent first. It holds at
// most one summary per friend.
type Synchronizer struct {
	conn   Sender
	bus    *bus.Bus
	logger *zap.Logger
	// FormatTime renders a message instant for LastTimeStamp.
	FormatTime func(time.Time) string

	mu        sync.RWMutex
	summaries []Summary
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a synchronizer with an empty list.
func New(conn Sender, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		conn:       conn,
		bus:        b,
		logger:     logging.OrNop(logger),
		FormatTime: clockTime,
	}
}

func clockTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04")
}

// Start requests the list and keeps it updated until Stop. The list is
// requested again every time the connection opens.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	frames, unsubFrames := s.bus.Subscribe(bus.KindFramePrefix, 256)
	states, unsubStates := s.bus.Subscribe(bus.KindStateChanged, 16)
	resets, unsubResets := s.bus.Subscribe(bus.KindResetUnread, 16)

	s.Refresh()

	go func() {
		defer close(s.done)
		defer unsubFrames()
		defer unsubStates()
		defer unsubResets()
		for {
			select {
			case evt := <-frames:
				if in, ok := evt.Payload.(protocol.Inbound); ok {
					s.Apply(in)
				}
			case evt := <-states:
				if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Open {
					s.Refresh()
				}
			case evt := <-resets:
				if r, ok := evt.Payload.(ResetUnread); ok {
					s.ResetUnread(r.FriendID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription started by Start and waits for it to drain.
func (s *Synchronizer) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

// Refresh asks the server for a fresh snapshot. It is a no-op while the
// connection is not open.
func (s *Synchronizer) Refresh() bool {
	return s.conn.Send(protocol.GetChatList{})
}

// Summaries returns a copy of the list, most recent first.
func (s *Synchronizer) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// Unread returns the sum of unread counters.
func (s *Synchronizer) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unreadTotal(s.summaries)
}

// Apply folds one inbound frame into the list. Frames of other types are ignored.
func (s *Synchronizer) Apply(in protocol.Inbound) {
	var changed bool
	switch f := in.(type) {
	case *protocol.FriendList:
		s.replace(f.Items)
		changed = true
	case *protocol.ChatMessage:
		changed = s.patch(&f.Message)
	case *protocol.MarkedRead:
		changed = s.zero(f.FriendID)
	}
	if changed {
		s.publish()
	}
}

// ResetUnread zeroes the unread counter for friendID without waiting for the
// server to confirm the read.
func (s *Synchronizer) ResetUnread(friendID int64) {
	if s.zero(friendID) {
		s.publish()
	}
}

// Reset forgets every summary. It is called when the user signs out or a
// different user signs in, before that user's snapshot arrives.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	n := len(s.summaries)
	s.summaries = nil
	s.mu.Unlock()
	s.logger.Debug("chat list reset", zap.Int("dropped", n))
	metrics.SetUnread(0)
	s.bus.Emit(bus.KindChatListUpdated, Updated{Summaries: []Summary{}, Reset: true})
}

func (s *Synchronizer) replace(items []protocol.FriendItem) {
	seen := make(map[int64]bool, len(items))
	next := make([]Summary, 0, len(items))
	for _, it := range items {
		if seen[it.FriendID] {
			s.logger.Debug("duplicate friend in snapshot", zap.Int64("friend_id", it.FriendID))
			continue
		}
		seen[it.FriendID] = true
		next = append(next, fromItem(it))
	}

	s.mu.Lock()
	s.summaries = next
	s.mu.Unlock()
	s.logger.Debug("chat list replaced", zap.Int("count", len(next)))
}

// FirstName returns the first whitespace-separated word of name.
func FirstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func fromItem(it protocol.FriendItem) Summary {
	unread := it.UnreadCount
	if unread < 0 {
		unread = 0
	}
	return Summary{
		FriendID:      it.FriendID,
		FriendName:    it.FriendName,
		FirstName:     FirstName(it.FriendName),
		LastMessage:   it.LastMessage,
		LastTimeStamp: it.LastTimeStamp,
		UnreadCount:   unread,
		ProfileImage:  it.ProfileImage,
		HasAttachment: strings.TrimSpace(it.Files) != "",
	}
}

// patch applies a new message to the summary of whichever participant is
// listed and moves it to the front. Messages for unknown friends are dropped.
func (s *Synchronizer) patch(msg *protocol.Message) bool {
	self := s.conn.UserID()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.summaries {
		id := s.summaries[i].FriendID
		if id != 0 && (id == msg.SenderID() || id == msg.RecipientID()) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.logger.Debug("no chat list entry for message",
			zap.Int64("from", msg.SenderID()), zap.Int64("to", msg.RecipientID()))
		metrics.IncDropped(metrics.DropUnmatched)
		return false
	}

	sum := s.summaries[idx]
	sum.LastMessage = msg.Body
	sum.LastTimeStamp = s.FormatTime(msg.CreatedAt.Time)
	sum.HasAttachment = strings.TrimSpace(msg.Files) != ""
	if msg.SenderID() != self {
		sum.UnreadCount++
	}

	copy(s.summaries[1:idx+1], s.summaries[:idx])
	s.summaries[0] = sum
	return true
}

func (s *Synchronizer) zero(friendID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.summaries {
		if s.summaries[i].FriendID == friendID {
			if s.summaries[i].UnreadCount == 0 {
				return false
			}
			s.summaries[i].UnreadCount = 0
			return true
		}
	}
	return false
}

func (s *Synchronizer) publish() {
	list := s.Summaries()
	metrics.SetUnread(unreadTotal(list))
	s.bus.Emit(bus.KindChatListUpdated, Updated{Summaries: list})
}

func unreadTotal(list []Summary) int {
	n := 0
	for _, sum := range list {
		n += sum.UnreadCount
	}
	return n
}
