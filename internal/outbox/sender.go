package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/store"
	"go.uber.org/zap"
)

const (
	pollInterval = 500 * time.Millisecond
	// DefaultMaxAttempts bounds how often a failed write is retried.
	DefaultMaxAttempts = 5
)

// Event is the payload of outbox.* events.
type Event struct {
	ClientMsgID string
	FriendID    int64
	MessageID   int64
	Status      string
	Error       string
}

// Sender drains the outbox into the connection while it is open, and
// confirms entries when the server echoes them back as chat frames.
type Sender struct {
	db          *store.DB
	conn        Conn
	bus         *bus.Bus
	logger      *zap.Logger
	MaxAttempts int
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, conn Conn, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:          db,
		conn:        conn,
		bus:         b,
		logger:      logging.OrNop(logger),
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Queue stores a message for sending and returns its client message id.
func (s *Sender) Queue(friendID int64, body, attachmentURL string, kind protocol.MessageKind) (string, error) {
	if friendID == 0 {
		return "", fmt.Errorf("queue: friend id is required")
	}
	frame := protocol.NewSendMessage(friendID, body, attachmentURL, kind)
	entry := &store.OutboxEntry{
		ClientMsgID: uuid.NewString(),
		FriendID:    friendID,
		Body:        frame.Body,
		Files:       frame.Files,
		Kind:        string(frame.Kind),
	}
	if err := s.db.QueueOutbox(entry); err != nil {
		return "", fmt.Errorf("queue: %w", err)
	}
	s.bus.Emit(bus.KindOutboxQueued, Event{ClientMsgID: entry.ClientMsgID, FriendID: friendID, Status: store.OutboxQueued})
	return entry.ClientMsgID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	echoes, unsub := s.bus.Subscribe(bus.FrameKind(string(protocol.TypeChat)), 64)
	go func() {
		defer close(s.done)
		defer unsub()
		s.loop(ctx, echoes)
	}()
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Sender) loop(ctx context.Context, echoes <-chan bus.Event) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending()
		case evt := <-echoes:
			if f, ok := evt.Payload.(*protocol.ChatMessage); ok {
				s.Confirm(&f.Message)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending writes every queued entry while the connection is open.
// Entries stay queued while it is not.
func (s *Sender) ProcessPending() {
	if !s.conn.IsConnected() {
		return
	}
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		frame := protocol.NewSendMessage(entry.FriendID, entry.Body, entry.Files, protocol.MessageKind(entry.Kind))
		frame.ClientMsgID = entry.ClientMsgID

		if !s.conn.Send(frame) {
			s.retryLater(entry)
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.Int64("friend_id", entry.FriendID))
		s.bus.Emit(bus.KindOutboxSent, Event{ClientMsgID: entry.ClientMsgID, FriendID: entry.FriendID, Status: store.OutboxSent})
	}
}

func (s *Sender) retryLater(entry store.OutboxEntry) {
	const reason = "connection not open"
	if entry.Attempts+1 >= s.MaxAttempts {
		s.logger.Error("giving up on message", zap.String("client_msg_id", entry.ClientMsgID), zap.Int("attempts", entry.Attempts+1))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, reason)
		s.bus.Emit(bus.KindOutboxFailed, Event{
			ClientMsgID: entry.ClientMsgID, FriendID: entry.FriendID,
			Status: store.OutboxFailed, Error: reason,
		})
		return
	}
	if err := s.db.MarkOutboxAttempt(entry.ClientMsgID, reason); err != nil {
		s.logger.Error("failed to record attempt", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
}

// Confirm matches a chat frame sent by the signed-in user to an outbox entry,
// by client message id when the server echoes it and by recipient and body
// otherwise. Reports whether an entry was confirmed.
func (s *Sender) Confirm(msg *protocol.Message) bool {
	self := s.conn.UserID()
	if self == 0 || msg.SenderID() != self {
		return false
	}

	var entry *store.OutboxEntry
	var err error
	if msg.ClientMsgID != "" {
		entry, err = s.db.GetOutbox(msg.ClientMsgID)
	} else {
		entry, err = s.db.OldestSentOutbox(msg.RecipientID(), msg.Body)
	}
	if err != nil {
		s.logger.Error("failed to look up outbox entry", zap.Error(err))
		return false
	}
	if entry == nil || entry.Status == store.OutboxConfirmed {
		return false
	}

	if err := s.db.MarkOutboxConfirmed(entry.ClientMsgID, msg.ID); err != nil {
		s.logger.Error("failed to mark confirmed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return false
	}
	s.logger.Debug("message confirmed", zap.String("client_msg_id", entry.ClientMsgID), zap.Int64("message_id", msg.ID))
	s.bus.Emit(bus.KindOutboxConfirmed, Event{
		ClientMsgID: entry.ClientMsgID, FriendID: entry.FriendID,
		MessageID: msg.ID, Status: store.OutboxConfirmed,
	})
	return true
}
