package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/chat"
	"github.com/matheus3301/chatlink/internal/config"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/realtime"
	"github.com/matheus3301/chatlink/internal/store"
	"github.com/matheus3301/chatlink/internal/thread"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 20
	maxOpenWait        = 10 * time.Second
)

// UserChangeFunc is called after the signed-in user changes.
type UserChangeFunc func(userID int64)

// RealtimeService implements RealtimeServer on top of a chat session and the
// local cache.
type RealtimeService struct {
	sessionName string
	session     *chat.Session
	db          *store.DB
	bus         *bus.Bus
	logger      *zap.Logger

	// OnUserChange is optional.
	OnUserChange UserChangeFunc
}

// NewRealtimeService creates the control-plane service.
func NewRealtimeService(sessionName string, s *chat.Session, db *store.DB, b *bus.Bus, logger *zap.Logger) *RealtimeService {
	return &RealtimeService{
		sessionName: sessionName,
		session:     s,
		db:          db,
		bus:         b,
		logger:      logging.OrNop(logger),
	}
}

func (s *RealtimeService) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.session.Status()
	open := make([]any, 0, len(st.OpenThreads))
	for _, id := range st.OpenThreads {
		open = append(open, id)
	}
	fields := map[string]any{
		"session":     s.sessionName,
		"userId":      st.UserID,
		"state":       string(st.State),
		"connected":   st.Connected,
		"unread":      st.Unread,
		"openThreads": open,
	}
	if counts, err := s.db.Counts(); err == nil {
		fields["cachedChats"] = counts.Chats
		fields["cachedMessages"] = counts.Messages
		fields["pendingOutbox"] = counts.PendingOutbox
	} else {
		s.logger.Warn("cache counts unavailable", zap.Error(err))
	}
	if v, err := s.db.SchemaVersion(); err == nil {
		fields["schemaVersion"] = int64(v)
	}
	return newResponse(fields)
}

func (s *RealtimeService) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := intField(req, "userId")
	if userID <= 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "userId must be positive")
	}
	err := s.session.Login(ctx, userID)
	if s.session.Status().UserID == userID {
		s.userChanged(userID)
	}
	if err != nil {
		return nil, toStatus("login", err)
	}
	return s.GetStatus(ctx, nil)
}

func (s *RealtimeService) Logout(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.session.Logout(ctx); err != nil {
		return nil, toStatus("logout", err)
	}
	s.userChanged(0)
	return s.GetStatus(ctx, nil)
}

func (s *RealtimeService) userChanged(userID int64) {
	if s.OnUserChange != nil {
		s.OnUserChange(userID)
	}
}

// ListChats returns the live chat list, or the cached copy when the session
// holds none yet or the caller asks for it.
func (s *RealtimeService) ListChats(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if boolField(req, "refresh") {
		s.session.RefreshChats()
	}
	if live := s.session.Chats(); len(live) > 0 && !boolField(req, "cached") {
		return newResponse(map[string]any{
			"source": "live",
			"chats":  toList(live, summaryMap),
		})
	}

	limit := int(intField(req, "limit"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	cached, err := s.db.ListChats(limit, int(intField(req, "offset")))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	return newResponse(map[string]any{
		"source":  "cache",
		"chats":   toList(cached, cachedChatMap),
		"hasMore": len(cached) == limit,
	})
}

// OpenThread starts following a conversation. With waitMs set it blocks until
// the first snapshot arrives or the wait runs out.
func (s *RealtimeService) OpenThread(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	friendID := intField(req, "friendId")
	wait := time.Duration(intField(req, "waitMs")) * time.Millisecond
	wait = min(wait, maxOpenWait)

	var updates <-chan bus.Event
	if wait > 0 {
		ch, unsub := s.bus.Subscribe(bus.KindThreadUpdated, 16)
		defer unsub()
		updates = ch
	}

	msgs, err := s.session.OpenThread(friendID)
	if err != nil {
		return nil, toStatus("open thread", err)
	}
	if updates != nil {
		msgs = waitThread(ctx, updates, friendID, wait, msgs)
	}
	if len(msgs) > 0 {
		return newResponse(map[string]any{
			"friendId": friendID,
			"source":   "live",
			"messages": toList(msgs, messageMap),
		})
	}

	limit := int(intField(req, "limit"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	cached, err := s.db.ListMessages(friendID, intField(req, "before"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	// The cache pages newest first; present oldest first like the live view.
	for i, j := 0, len(cached)-1; i < j; i, j = i+1, j-1 {
		cached[i], cached[j] = cached[j], cached[i]
	}
	return newResponse(map[string]any{
		"friendId": friendID,
		"source":   "cache",
		"messages": toList(cached, cachedMessageMap),
	})
}

func waitThread(ctx context.Context, updates <-chan bus.Event, friendID int64, wait time.Duration, current []protocol.Message) []protocol.Message {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case evt := <-updates:
			if upd, ok := evt.Payload.(thread.Updated); ok && upd.FriendID == friendID {
				return upd.Messages
			}
		case <-timer.C:
			return current
		case <-ctx.Done():
			return current
		}
	}
}

func (s *RealtimeService) CloseThread(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	friendID := intField(req, "friendId")
	if friendID <= 0 {
		return nil, toStatus("close thread", chat.ErrInvalidFriend)
	}
	s.session.CloseThread(friendID)
	return &emptypb.Empty{}, nil
}

// SendMessage writes a message straight to the connection, or stores it in
// the outbox when queue is set.
func (s *RealtimeService) SendMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	friendID := intField(req, "friendId")
	body := stringField(req, "body")
	url := stringField(req, "attachmentUrl")
	kind := protocol.MessageKind(stringField(req, "kind"))
	if body == "" && url == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "body or attachmentUrl is required")
	}

	if boolField(req, "queue") {
		id, err := s.session.Queue(friendID, body, url, kind)
		if err != nil {
			return nil, toStatus("queue message", err)
		}
		return newResponse(map[string]any{"queued": true, "clientMsgId": id})
	}

	sent, err := s.session.Send(friendID, body, url, kind)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return newResponse(map[string]any{"sent": sent})
}

func (s *RealtimeService) MarkRead(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sent, err := s.session.MarkRead(intField(req, "friendId"))
	if err != nil {
		return nil, toStatus("mark read", err)
	}
	return newResponse(map[string]any{"sent": sent})
}

func (s *RealtimeService) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := stringField(req, "query")
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := int(intField(req, "limit"))
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	results, err := s.db.SearchMessages(query, intField(req, "friendId"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search: %v", err)
	}
	return newResponse(map[string]any{"results": toList(results, searchResultMap)})
}

// WatchEvents streams bus events whose kind starts with prefix (every event
// when empty) until the client goes away.
func (s *RealtimeService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(bus.Kind(stringField(req, "prefix")), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := structpb.NewStruct(eventMap(evt))
			if err != nil {
				s.logger.Warn("event not representable", zap.String("kind", string(evt.Kind)), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func newResponse(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, chat.ErrInvalidFriend):
		code = codes.InvalidArgument
	case errors.Is(err, config.ErrNoEndpoint), errors.Is(err, realtime.ErrNoUser):
		code = codes.FailedPrecondition
	case errors.Is(err, realtime.ErrNotConnected), errors.Is(err, realtime.ErrDial):
		code = codes.Unavailable
	case errors.Is(err, realtime.ErrClosed):
		code = codes.Aborted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
