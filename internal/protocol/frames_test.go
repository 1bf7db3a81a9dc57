package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFriendList(t *testing.T) {
	raw := `{"type":"friend_list","payload":[{"friendId":5,"friendName":"Ada Lovelace","lastMessage":"hi","lastTimeStamp":"10:42","unreadCount":3,"profileImage":"http://img/5.png","files":""}]}`

	in, err := Decode([]byte(raw))
	require.NoError(t, err)

	fl, ok := in.(*FriendList)
	require.True(t, ok, "got %T, want *FriendList", in)
	require.Len(t, fl.Items, 1)
	assert.Equal(t, int64(5), fl.Items[0].FriendID)
	assert.Equal(t, "Ada Lovelace", fl.Items[0].FriendName)
	assert.Equal(t, 3, fl.Items[0].UnreadCount)
	assert.Empty(t, fl.RequestID())
}

func TestDecodeNullListIsEmpty(t *testing.T) {
	in, err := Decode([]byte(`{"type":"single_chat","payload":null}`))
	require.NoError(t, err)
	assert.Empty(t, in.(*SingleChat).Messages)
}

func TestDecodeChatMessage(t *testing.T) {
	raw := `{"type":"chat","requestId":"r-1","payload":{"id":9,"from":{"id":7,"firstName":"Bob"},"to":{"id":1},"message":"yo","createdAt":"2024-05-01T10:00:00Z","status":"SENT"}}`

	in, err := Decode([]byte(raw))
	require.NoError(t, err)

	cm := in.(*ChatMessage)
	assert.Equal(t, "r-1", cm.RequestID())
	assert.Equal(t, int64(9), cm.Message.ID)
	assert.Equal(t, int64(7), cm.Message.SenderID())
	assert.Equal(t, int64(1), cm.Message.RecipientID())
	assert.Equal(t, StatusSent, cm.Message.Status)
	assert.True(t, cm.Message.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeChatWithoutPayloadIsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type":"chat"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeStatusUpdate(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message_status_update","payload":{"messageId":4,"status":"READ"}}`))
	require.NoError(t, err)

	su := in.(*StatusUpdate)
	assert.Equal(t, int64(4), su.MessageID)
	assert.Equal(t, StatusRead, su.Status)
}

func TestDecodeMarkedReadAliases(t *testing.T) {
	for _, tag := range []string{"messages_marked_read", "messages_marked_read_response"} {
		t.Run(tag, func(t *testing.T) {
			in, err := Decode([]byte(`{"type":"` + tag + `","payload":{"friendId":5}}`))
			require.NoError(t, err)
			assert.Equal(t, TypeMarkedRead, in.Type())
			assert.Equal(t, int64(5), in.(*MarkedRead).FriendID)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"missing type", `{"payload":[]}`, ErrMalformed},
		{"payload shape", `{"type":"friend_list","payload":{"friendId":1}}`, ErrMalformed},
		{"bad timestamp", `{"type":"chat","payload":{"id":1,"createdAt":"yesterday"}}`, ErrMalformed},
		{"unknown tag", `{"type":"typing","payload":{}}`, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.raw))
			assert.Nil(t, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInstantFormats(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"createdAt":1714557600000,"updatedAt":""}`), &m))
	assert.Equal(t, int64(1714557600000), m.CreatedAt.UnixMilli())
	assert.True(t, m.UpdatedAt.IsZero())
}

func TestNewSendMessageText(t *testing.T) {
	f := NewSendMessage(7, "hi", "", "")

	raw, err := Encode(f, 1, "")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "send_message", got["type"])
	assert.Equal(t, "text", got["messageType"])
	assert.Equal(t, "hi", got["message"])
	assert.EqualValues(t, 7, got["friendId"])
	assert.NotContains(t, got, "files")
}

func TestNewSendMessageImage(t *testing.T) {
	f := NewSendMessage(7, "", "http://x/y.jpg", "")

	raw, err := Encode(f, 1, "")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "image", got["messageType"])
	assert.Equal(t, "http://x/y.jpg", got["files"])
}

func TestNewSendMessageExplicitKindWins(t *testing.T) {
	f := NewSendMessage(7, "look", "http://x/y.jpg", KindText)
	assert.Equal(t, KindText, f.Kind)

	blank := NewSendMessage(7, "hi", "   ", "")
	assert.Equal(t, KindText, blank.Kind)
	assert.Empty(t, blank.Files)
}

func TestEncodeInjectsUserAndRequestID(t *testing.T) {
	raw, err := Encode(MarkMessagesRead{FriendID: 5}, 42, "req-9")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]any{
		"type":      "mark_messages_read",
		"friendId":  float64(5),
		"userId":    float64(42),
		"requestId": "req-9",
	}, got)
}

func TestEncodeGetChatListHasNoBody(t *testing.T) {
	raw, err := Encode(GetChatList{}, 3, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"get_chat_list","userId":3}`, string(raw))
}

func TestSortByCreatedAt(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	msgs := []Message{{ID: 1, CreatedAt: At(t2)}, {ID: 2, CreatedAt: At(t1)}}
	SortByCreatedAt(msgs)

	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(1), msgs[1].ID)
}

func TestMessageInvolves(t *testing.T) {
	m := Message{From: &UserStub{ID: 7}, To: &UserStub{ID: 1}}
	assert.True(t, m.Involves(7))
	assert.True(t, m.Involves(1))
	assert.False(t, m.Involves(3))
	assert.False(t, m.Involves(0))
	assert.Equal(t, int64(7), m.Counterpart(1))
	assert.Equal(t, int64(1), m.Counterpart(7))

	var orphan Message
	assert.False(t, orphan.Involves(7))
}
