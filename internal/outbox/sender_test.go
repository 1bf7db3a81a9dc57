package outbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/store"
	"go.uber.org/zap"
)

const self int64 = 1

// mockConn records frames and can be switched between open and closed.
type mockConn struct {
	mu     sync.Mutex
	open   bool
	userID int64
	frames []protocol.Outbound
}

func (m *mockConn) Send(out protocol.Outbound) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return false
	}
	m.frames = append(m.frames, out)
	return true
}

func (m *mockConn) UserID() int64 { return m.userID }

func (m *mockConn) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *mockConn) sent() []protocol.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Outbound(nil), m.frames...)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSendTextFrame(t *testing.T) {
	conn := &mockConn{open: true, userID: self}

	if !Send(conn, 7, "hi", "", "") {
		t.Fatal("Send() = false, want true")
	}
	raw, err := protocol.Encode(conn.sent()[0], self, "")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["messageType"] != "text" {
		t.Errorf("messageType = %v, want text", got["messageType"])
	}
	if _, ok := got["files"]; ok {
		t.Errorf("files present in %s", raw)
	}
}

func TestSendImageFrame(t *testing.T) {
	conn := &mockConn{open: true, userID: self}

	Send(conn, 7, "", "http://x/y.jpg", "")
	frame := conn.sent()[0].(protocol.SendMessage)
	if frame.Kind != protocol.KindImage || frame.Files != "http://x/y.jpg" {
		t.Errorf("frame = %+v, want image with files", frame)
	}
}

func TestSendWhileClosedIsDropped(t *testing.T) {
	conn := &mockConn{userID: self}

	if SendText(conn, 7, "hi") {
		t.Error("SendText() = true on a closed connection")
	}
	if len(conn.sent()) != 0 {
		t.Errorf("got %d frames, want 0", len(conn.sent()))
	}
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	conn := &mockConn{open: true, userID: self}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, conn, b, logger)

	ch, unsub := b.Subscribe(bus.KindOutboxSent, 10)
	defer unsub()

	id, err := s.Queue(7, "hello", "", "")
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if evt.Payload.(Event).ClientMsgID != id {
			t.Errorf("event = %+v, want client id %s", evt.Payload, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbox.sent event")
	}

	frames := conn.sent()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	frame := frames[0].(protocol.SendMessage)
	if frame.FriendID != 7 || frame.Body != "hello" || frame.ClientMsgID != id {
		t.Errorf("frame = %+v", frame)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}
}

func TestSenderWaitsForConnection(t *testing.T) {
	db := testDB(t)
	conn := &mockConn{userID: self}
	s := NewSender(db, conn, bus.New(), nil)

	if _, err := s.Queue(7, "later", "", ""); err != nil {
		t.Fatal(err)
	}
	s.ProcessPending()

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Attempts != 0 {
		t.Fatalf("pending = %+v, want one untouched entry", pending)
	}

	conn.mu.Lock()
	conn.open = true
	conn.mu.Unlock()
	s.ProcessPending()

	if len(conn.sent()) != 1 {
		t.Errorf("got %d frames after reconnect, want 1", len(conn.sent()))
	}
}

// flakyConn reports open but drops every write.
type flakyConn struct{ mockConn }

func (f *flakyConn) Send(protocol.Outbound) bool { return false }
func (f *flakyConn) IsConnected() bool           { return true }

func TestSenderGivesUpAfterMaxAttempts(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, &flakyConn{}, b, nil)
	s.MaxAttempts = 2

	ch, unsub := b.Subscribe(bus.KindOutboxFailed, 1)
	defer unsub()

	id, err := s.Queue(7, "doomed", "", "")
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessPending()
	s.ProcessPending()

	select {
	case <-ch:
	default:
		t.Fatal("no outbox.failed event")
	}
	e, err := db.GetOutbox(id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.OutboxFailed {
		t.Errorf("status = %q, want failed", e.Status)
	}
}

func TestConfirmByClientID(t *testing.T) {
	db := testDB(t)
	conn := &mockConn{open: true, userID: self}
	s := NewSender(db, conn, bus.New(), nil)

	id, err := s.Queue(7, "hello", "", "")
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessPending()

	echo := &protocol.Message{
		ID: 500, From: &protocol.UserStub{ID: self}, To: &protocol.UserStub{ID: 7},
		Body: "hello", ClientMsgID: id,
	}
	if !s.Confirm(echo) {
		t.Fatal("Confirm() = false, want true")
	}
	if s.Confirm(echo) {
		t.Error("second Confirm() = true, want false")
	}

	e, err := db.GetOutbox(id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.OutboxConfirmed || e.ServerMsgID != 500 {
		t.Errorf("entry = %+v, want confirmed as 500", e)
	}
}

func TestConfirmByRecipientAndBody(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	conn := &mockConn{open: true, userID: self}
	s := NewSender(db, conn, b, nil)

	ch, unsub := b.Subscribe(bus.KindOutboxConfirmed, 1)
	defer unsub()

	first, _ := s.Queue(7, "same", "", "")
	second, _ := s.Queue(7, "same", "", "")
	s.ProcessPending()

	s.Start(context.Background())
	defer s.Stop()
	b.Emit(bus.FrameKind("chat"), &protocol.ChatMessage{Message: protocol.Message{
		ID: 9, From: &protocol.UserStub{ID: self}, To: &protocol.UserStub{ID: 7}, Body: "same",
	}})

	select {
	case evt := <-ch:
		if got := evt.Payload.(Event).ClientMsgID; got != first {
			t.Errorf("confirmed %s, want oldest %s", got, first)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbox.confirmed event")
	}

	e, _ := db.GetOutbox(second)
	if e.Status != store.OutboxSent {
		t.Errorf("second entry status = %q, want sent", e.Status)
	}
}

func TestConfirmIgnoresIncomingMessages(t *testing.T) {
	db := testDB(t)
	conn := &mockConn{open: true, userID: self}
	s := NewSender(db, conn, bus.New(), nil)

	if _, err := s.Queue(7, "hello", "", ""); err != nil {
		t.Fatal(err)
	}
	s.ProcessPending()

	if s.Confirm(&protocol.Message{ID: 1, From: &protocol.UserStub{ID: 7}, To: &protocol.UserStub{ID: self}, Body: "hello"}) {
		t.Error("Confirm() matched a message from the friend")
	}
}
