package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/chatlist"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/store"
	"github.com/matheus3301/chatlink/internal/thread"
	"go.uber.org/zap"
)

// UserFunc returns the signed-in user, or 0.
type UserFunc func() int64

// Engine mirrors the realtime session into the store. It follows the
// synchronizers' snapshots for the chat list and open conversations, and
// inbound chat and status frames for everything else.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	self   UserFunc
	rec    *Reconciler
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, self UserFunc, logger *zap.Logger) *Engine {
	logger = logging.OrNop(logger)
	return &Engine{
		db:     db,
		bus:    b,
		self:   self,
		rec:    NewReconciler(db, logger),
		logger: logger,
	}
}

// Reconciler exposes the engine's checkpoint store.
func (e *Engine) Reconciler() *Reconciler { return e.rec }

// Start subscribes to frame, chat list and conversation events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	frames, unsubFrames := e.bus.Subscribe(bus.KindFramePrefix, 256)
	lists, unsubLists := e.bus.Subscribe(bus.KindChatListUpdated, 16)
	threads, unsubThreads := e.bus.Subscribe(bus.KindThreadUpdated, 64)

	go func() {
		defer close(e.done)
		defer unsubFrames()
		defer unsubLists()
		defer unsubThreads()
		for {
			select {
			case evt := <-frames:
				e.handleEvent(evt)
			case evt := <-lists:
				e.handleEvent(evt)
			case evt := <-threads:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.cancel = nil
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case chatlist.Updated:
		// A reset list belongs to nobody; the cache keeps the last user's rows.
		if !p.Reset {
			err = e.IngestChatList(p.Summaries)
		}
	case thread.Updated:
		err = e.IngestThread(p.FriendID, p.Messages)
	case *protocol.ChatMessage:
		err = e.IngestMessage(&p.Message)
	case *protocol.StatusUpdate:
		err = e.IngestStatus(p.MessageID, p.Status)
	}
	if err != nil {
		e.logger.Error("failed to persist event", zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}

// IngestChatList replaces the cached chat list.
func (e *Engine) IngestChatList(list []chatlist.Summary) error {
	chats := make([]store.Chat, len(list))
	for i, s := range list {
		chats[i] = store.Chat{
			FriendID:      s.FriendID,
			FriendName:    s.FriendName,
			LastMessage:   s.LastMessage,
			LastTimeStamp: s.LastTimeStamp,
			UnreadCount:   s.UnreadCount,
			ProfileImage:  s.ProfileImage,
			HasAttachment: s.HasAttachment,
		}
	}
	if err := e.db.ReplaceChats(chats); err != nil {
		return fmt.Errorf("replace chats: %w", err)
	}
	return e.rec.Stamp(CheckpointChatList)
}

// IngestThread replaces the cached conversation with friendID.
func (e *Engine) IngestThread(friendID int64, msgs []protocol.Message) error {
	rows := make([]store.Message, len(msgs))
	for i := range msgs {
		rows[i] = toStore(&msgs[i], friendID)
	}
	if err := e.db.ReplaceThread(friendID, rows); err != nil {
		return fmt.Errorf("replace thread %d: %w", friendID, err)
	}
	return e.rec.Stamp(ThreadCheckpoint(friendID))
}

// IngestMessage stores one message under the conversation it belongs to
// (idempotent).
func (e *Engine) IngestMessage(msg *protocol.Message) error {
	friendID := msg.Counterpart(e.self())
	if friendID == 0 {
		e.logger.Debug("message without counterpart", zap.Int64("msg_id", msg.ID))
		return nil
	}
	row := toStore(msg, friendID)
	if err := e.db.UpsertMessage(&row); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return e.rec.UpdateCheckpoint(CheckpointLastMessage, strconv.FormatInt(msg.ID, 10))
}

// IngestStatus updates the cached status of one message.
func (e *Engine) IngestStatus(msgID int64, st protocol.Status) error {
	found, err := e.db.UpdateMessageStatus(msgID, string(st))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !found {
		e.logger.Debug("status update for uncached message", zap.Int64("msg_id", msgID))
	}
	return nil
}

func toStore(m *protocol.Message, friendID int64) store.Message {
	var created int64
	if !m.CreatedAt.IsZero() {
		created = m.CreatedAt.UnixMilli()
	}
	return store.Message{
		ID:          m.ID,
		FriendID:    friendID,
		SenderID:    m.SenderID(),
		RecipientID: m.RecipientID(),
		Body:        m.Body,
		Files:       m.Files,
		ClientMsgID: m.ClientMsgID,
		Status:      string(m.Status),
		CreatedAt:   created,
	}
}
