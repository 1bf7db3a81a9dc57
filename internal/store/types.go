package store

// Chat is one cached chat-list row.
type Chat struct {
	FriendID      int64
	FriendName    string
	LastMessage   string
	LastTimeStamp string
	UnreadCount   int
	ProfileImage  string
	HasAttachment bool
	Position      int
}

// Message is one cached message. FriendID is the counterpart of the
// signed-in user; CreatedAt is in epoch milliseconds.
type Message struct {
	ID          int64
	FriendID    int64
	SenderID    int64
	RecipientID int64
	Body        string
	Files       string
	ClientMsgID string
	Status      string
	CreatedAt   int64
}

// Outbox statuses.
const (
	OutboxQueued    = "queued"
	OutboxSent      = "sent"
	OutboxConfirmed = "confirmed"
	OutboxFailed    = "failed"
)

// OutboxEntry is a message the user asked to send.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	FriendID     int64
	Body         string
	Files        string
	Kind         string
	Status       string // queued, sent, confirmed, failed
	Attempts     int
	ErrorMessage string
	ServerMsgID  int64
	CreatedAt    int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

// Counts summarises what the cache holds.
type Counts struct {
	Chats         int
	Messages      int
	PendingOutbox int
}
