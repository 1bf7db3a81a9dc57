// Package outbox sends chat messages, directly or through a persistent queue
// that is drained while the connection is open.
package outbox

import (
	"github.com/matheus3301/chatlink/internal/protocol"
)

// Conn is the part of the connection manager the outbox needs.
type Conn interface {
	Send(out protocol.Outbound) bool
	UserID() int64
	IsConnected() bool
}

// Send builds a send_message frame and hands it to conn. The message kind is
// derived from the attachment when kind is empty. Nothing is echoed locally;
// the server's chat frame is the only confirmation. Returns false when the
// connection is not open and the frame was dropped.
func Send(conn Conn, friendID int64, body, attachmentURL string, kind protocol.MessageKind) bool {
	return conn.Send(protocol.NewSendMessage(friendID, body, attachmentURL, kind))
}

// SendText is Send for a plain text message.
func SendText(conn Conn, friendID int64, body string) bool {
	return Send(conn, friendID, body, "", protocol.KindText)
}
