package chatlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const self int64 = 1

type fakeConn struct {
	mu   sync.Mutex
	open bool
	sent []protocol.Outbound
}

func (f *fakeConn) Send(out protocol.Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	f.sent = append(f.sent, out)
	return true
}

func (f *fakeConn) UserID() int64 { return self }

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newSync(t *testing.T) (*Synchronizer, *fakeConn, *bus.Bus) {
	t.Helper()
	conn := &fakeConn{open: true}
	b := bus.New()
	s := New(conn, b, nil)
	s.FormatTime = func(t time.Time) string { return t.UTC().Format("15:04") }
	return s, conn, b
}

func stub(id int64) *protocol.UserStub { return &protocol.UserStub{ID: id} }

func snapshot(items ...protocol.FriendItem) *protocol.FriendList {
	return &protocol.FriendList{Items: items}
}

func friendIDs(list []Summary) []int64 {
	ids := make([]int64, len(list))
	for i, s := range list {
		ids[i] = s.FriendID
	}
	return ids
}

func TestSnapshotReplacesList(t *testing.T) {
	s, _, _ := newSync(t)

	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 5, FriendName: "Ana  Maria Souza", UnreadCount: 2, Files: "http://x/a.jpg"},
		protocol.FriendItem{FriendID: 6, FriendName: "", LastMessage: "ok"},
	))
	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 7, FriendName: "Bruno", Files: "  "},
	))

	got := s.Summaries()
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].FriendID)
	assert.Equal(t, "Bruno", got[0].FirstName)
	assert.False(t, got[0].HasAttachment)
}

func TestSnapshotMapping(t *testing.T) {
	s, _, _ := newSync(t)

	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 5, FriendName: "Ana  Maria Souza", UnreadCount: 2,
			LastMessage: "hey", LastTimeStamp: "10:30", ProfileImage: "p.png", Files: "http://x/a.jpg"},
		protocol.FriendItem{FriendID: 6},
	))

	got := s.Summaries()
	require.Len(t, got, 2)
	assert.Equal(t, Summary{
		FriendID: 5, FriendName: "Ana  Maria Souza", FirstName: "Ana",
		LastMessage: "hey", LastTimeStamp: "10:30", UnreadCount: 2,
		ProfileImage: "p.png", HasAttachment: true,
	}, got[0])
	assert.Equal(t, "", got[1].FirstName)
	assert.False(t, got[1].HasAttachment)
}

func TestIncomingMessageMovesToFront(t *testing.T) {
	s, _, _ := newSync(t)
	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 5, UnreadCount: 1},
		protocol.FriendItem{FriendID: 6},
		protocol.FriendItem{FriendID: 7},
	))

	at := time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)
	s.Apply(&protocol.ChatMessage{Message: protocol.Message{
		ID: 10, From: stub(7), To: stub(self), Body: "hi", CreatedAt: protocol.At(at),
	}})

	got := s.Summaries()
	assert.Equal(t, []int64{7, 5, 6}, friendIDs(got))
	assert.Equal(t, "hi", got[0].LastMessage)
	assert.Equal(t, "14:05", got[0].LastTimeStamp)
	assert.Equal(t, 1, got[0].UnreadCount)
	assert.Equal(t, 1, got[1].UnreadCount)
}

func TestOwnMessageDoesNotCountAsUnread(t *testing.T) {
	s, _, _ := newSync(t)
	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 5},
		protocol.FriendItem{FriendID: 6},
	))

	s.Apply(&protocol.ChatMessage{Message: protocol.Message{
		ID: 11, From: stub(self), To: stub(6), Body: "sent by me",
	}})

	got := s.Summaries()
	assert.Equal(t, []int64{6, 5}, friendIDs(got))
	assert.Equal(t, 0, got[0].UnreadCount)
	assert.Equal(t, "sent by me", got[0].LastMessage)
}

func TestMessageForUnknownFriendIsDropped(t *testing.T) {
	s, _, b := newSync(t)
	s.Apply(snapshot(protocol.FriendItem{FriendID: 5}))
	updates, unsub := b.Subscribe(bus.KindChatListUpdated, 4)
	defer unsub()

	s.Apply(&protocol.ChatMessage{Message: protocol.Message{From: stub(99), To: stub(self), Body: "who?"}})

	assert.Equal(t, []int64{5}, friendIDs(s.Summaries()))
	select {
	case evt := <-updates:
		t.Fatalf("unexpected update %v", evt)
	default:
	}
}

func TestMarkedReadZeroesOnlyThatFriend(t *testing.T) {
	s, _, _ := newSync(t)
	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 5, UnreadCount: 3},
		protocol.FriendItem{FriendID: 6, UnreadCount: 4},
	))

	s.Apply(&protocol.MarkedRead{FriendID: 5})

	got := s.Summaries()
	assert.Equal(t, 0, got[0].UnreadCount)
	assert.Equal(t, 4, got[1].UnreadCount)
	assert.Equal(t, 4, s.Unread())
}

func TestAtMostOneSummaryPerFriend(t *testing.T) {
	s, _, _ := newSync(t)

	s.Apply(snapshot(
		protocol.FriendItem{FriendID: 5},
		protocol.FriendItem{FriendID: 6},
		protocol.FriendItem{FriendID: 5, FriendName: "dup"},
	))
	for i := 0; i < 10; i++ {
		from := int64(5 + i%2)
		s.Apply(&protocol.ChatMessage{Message: protocol.Message{ID: int64(i), From: stub(from), To: stub(self)}})
	}

	seen := map[int64]int{}
	for _, sum := range s.Summaries() {
		seen[sum.FriendID]++
	}
	assert.Equal(t, map[int64]int{5: 1, 6: 1}, seen)
}

func TestStartRequestsListAndFollowsBus(t *testing.T) {
	s, conn, b := newSync(t)
	updates, unsub := b.Subscribe(bus.KindChatListUpdated, 8)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()
	assert.Equal(t, 1, conn.sentCount())

	b.Emit(bus.FrameKind("friend_list"), snapshot(protocol.FriendItem{FriendID: 5, UnreadCount: 2}))
	waitUpdate(t, updates)

	b.Emit(bus.KindResetUnread, ResetUnread{FriendID: 5})
	upd := waitUpdate(t, updates)
	assert.Equal(t, 0, upd.Summaries[0].UnreadCount)

	b.Emit(bus.KindStateChanged, status.StatusChange{From: status.Connecting, To: status.Open})
	require.Eventually(t, func() bool { return conn.sentCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStartWhileDisconnectedSendsNothing(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, bus.New(), nil)

	s.Start(context.Background())
	s.Stop()

	assert.Equal(t, 0, conn.sentCount())
}

func waitUpdate(t *testing.T, ch <-chan bus.Event) Updated {
	t.Helper()
	select {
	case evt := <-ch:
		return evt.Payload.(Updated)
	case <-time.After(time.Second):
		t.Fatal("no chatlist.updated event")
		return Updated{}
	}
}

func TestResetForgetsListAndPublishes(t *testing.T) {
	s, _, b := newSync(t)
	s.Apply(snapshot(protocol.FriendItem{FriendID: 5, UnreadCount: 3}))
	updates, unsub := b.Subscribe(bus.KindChatListUpdated, 4)
	defer unsub()

	s.Reset()

	assert.Empty(t, s.Summaries())
	assert.Zero(t, s.Unread())
	select {
	case evt := <-updates:
		upd := evt.Payload.(Updated)
		assert.True(t, upd.Reset)
		assert.Empty(t, upd.Summaries)
	case <-time.After(time.Second):
		t.Fatal("no chatlist.updated event")
	}

	s.Apply(&protocol.ChatMessage{Message: protocol.Message{From: stub(5), To: stub(self), Body: "late"}})
	assert.Empty(t, s.Summaries())
}
