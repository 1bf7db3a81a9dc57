package store

import (
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (id, friend_id, sender_id, recipient_id, body, files, client_msg_id, status, created_at, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		body = excluded.body,
		files = excluded.files,
		status = excluded.status,
		client_msg_id = CASE WHEN excluded.client_msg_id != '' THEN excluded.client_msg_id ELSE messages.client_msg_id END`

// UpsertMessage inserts or updates a message (idempotent on id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.ID, m.FriendID, m.SenderID, m.RecipientID, m.Body, m.Files, m.ClientMsgID, m.Status, m.CreatedAt, time.Now().UnixMilli())
	return err
}

// ReplaceThread swaps the cached conversation with friendID for msgs.
func (db *DB) ReplaceThread(friendID int64, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE friend_id = ?`, friendID); err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			m.ID, friendID, m.SenderID, m.RecipientID, m.Body, m.Files, m.ClientMsgID, m.Status, m.CreatedAt, now); err != nil {
			return fmt.Errorf("insert message %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateMessageStatus sets the delivery status of one message and reports
// whether it was cached.
func (db *DB) UpdateMessageStatus(id int64, status string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns messages with friendID using keyset pagination by
// creation time, newest first.
func (db *DB) ListMessages(friendID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, friend_id, sender_id, recipient_id, body, files, client_msg_id, status, created_at
		FROM messages
		WHERE friend_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, friendID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.FriendID, &m.SenderID, &m.RecipientID, &m.Body, &m.Files, &m.ClientMsgID, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
