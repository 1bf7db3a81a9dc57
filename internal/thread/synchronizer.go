// Package thread keeps one conversation's messages in step with the
// realtime connection.
package thread

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/status"
	"go.uber.org/zap"
)

// How long a conversation waits for its snapshot.
const requestTimeout = 15 * time.Second

// Sender is the part of the connection manager a conversation needs.
type Sender interface {
	Send(out protocol.Outbound) bool
	Request(ctx context.Context, out protocol.Outbound, want protocol.InboundType) (protocol.Inbound, error)
	UserID() int64
}

// Updated is the payload of thread.updated events.
type Updated struct {
	FriendID int64
	Messages []protocol.Message
}

// Synchronizer owns the messages exchanged with one friend, oldest first.
// It never marks anything read.
type Synchronizer struct {
	friendID int64
	conn     Sender
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.RWMutex
	messages []protocol.Message
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	fetches  sync.WaitGroup
}

// New creates a synchronizer for friendID.
func New(friendID int64, conn Sender, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		friendID: friendID,
		conn:     conn,
		bus:      b,
		logger:   logging.OrNop(logger).With(zap.Int64("friend_id", friendID)),
	}
}

// FriendID returns the friend this conversation is with.
func (s *Synchronizer) FriendID() int64 { return s.friendID }

// Start requests the conversation and keeps it updated until Stop. The
// conversation is requested again every time the connection opens.
func (s *Synchronizer) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	ctx = s.ctx
	s.done = make(chan struct{})
	frames, unsubFrames := s.bus.Subscribe(bus.KindFramePrefix, 256)
	states, unsubStates := s.bus.Subscribe(bus.KindStateChanged, 16)

	s.Refresh()

	go func() {
		defer close(s.done)
		defer unsubFrames()
		defer unsubStates()
		for {
			select {
			case evt := <-frames:
				// Snapshots are delivered to the Refresh that asked for them.
				if in, ok := evt.Payload.(protocol.Inbound); ok && in.Type() != protocol.TypeSingleChat {
					s.Apply(in)
				}
			case evt := <-states:
				if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Open {
					s.Refresh()
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
		s.fetches.Wait()
		s.cancel = nil
	}
}

// Refresh asks the server for the conversation snapshot and applies the
// reply to this request when it arrives. Without a signed-in user nothing is
// requested.
func (s *Synchronizer) Refresh() bool {
	if s.conn.UserID() == 0 {
		s.logger.Debug("no user signed in, not requesting conversation")
		return false
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		in, err := s.conn.Request(ctx, protocol.GetSingleChat{FriendID: s.friendID}, protocol.TypeSingleChat)
		if err != nil {
			s.logger.Debug("conversation request failed", zap.Error(err))
			return
		}
		s.Apply(in)
	}()
	return true
}

// Messages returns a copy of the conversation, oldest first.
func (s *Synchronizer) Messages() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Apply folds one inbound frame into the conversation. Frames of other types,
// and messages with other friends, are ignored.
func (s *Synchronizer) Apply(in protocol.Inbound) {
	var changed bool
	switch f := in.(type) {
	case *protocol.SingleChat:
		changed = s.replace(f)
	case *protocol.ChatMessage:
		changed = s.append(f.Message)
	case *protocol.StatusUpdate:
		changed = s.setStatus(f.MessageID, f.Status)
	}
	if changed {
		s.bus.Emit(bus.KindThreadUpdated, Updated{FriendID: s.friendID, Messages: s.Messages()})
	}
}

// replace installs a snapshot. A snapshot that echoes no request id can only
// be attributed by its content, so every message must involve this friend.
func (s *Synchronizer) replace(sc *protocol.SingleChat) bool {
	if sc.RequestID() == "" {
		for _, m := range sc.Messages {
			if !m.Involves(s.friendID) {
				s.logger.Warn("dropping snapshot of another conversation", zap.Int64("message_id", m.ID))
				return false
			}
		}
	}
	next := make([]protocol.Message, len(sc.Messages))
	copy(next, sc.Messages)
	protocol.SortByCreatedAt(next)

	s.mu.Lock()
	s.messages = next
	s.mu.Unlock()
	return true
}

func (s *Synchronizer) append(msg protocol.Message) bool {
	if !msg.Involves(s.friendID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	protocol.SortByCreatedAt(s.messages)
	return true
}

func (s *Synchronizer) setStatus(id int64, st protocol.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			if s.messages[i].Status == st {
				return false
			}
			s.messages[i].Status = st
			return true
		}
	}
	return false
}
