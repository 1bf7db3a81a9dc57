package store

import (
	"database/sql"
	"time"
)

const outboxColumns = `id, client_msg_id, friend_id, body, files, kind, status, attempts, error_message, server_msg_id, created_at`

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, friend_id, body, files, kind, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.FriendID, e.Body, e.Files, e.Kind, now, now)
	return err
}

// MarkOutboxSent records that the frame was written to the connection.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', attempts = attempts + 1, updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxAttempt counts a failed write and leaves the entry queued.
func (db *DB) MarkOutboxAttempt(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET attempts = attempts + 1, error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// MarkOutboxConfirmed records the server message id the entry was echoed as.
func (db *DB) MarkOutboxConfirmed(clientMsgID string, serverMsgID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'confirmed', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed gives up on an entry.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.queryOutbox(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
}

// ListOutbox returns the most recent entries with friendID, newest first.
func (db *DB) ListOutbox(friendID int64, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryOutbox(`SELECT `+outboxColumns+` FROM outbox WHERE friend_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, friendID, limit)
}

// GetOutbox returns one entry, or nil when there is none.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// OldestSentOutbox returns the oldest unconfirmed entry to friendID with the
// given body, for servers that do not echo client message ids.
func (db *DB) OldestSentOutbox(friendID int64, body string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`SELECT `+outboxColumns+` FROM outbox
		WHERE status = 'sent' AND friend_id = ? AND body = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`, friendID, body).
		Scan(&e.ID, &e.ClientMsgID, &e.FriendID, &e.Body, &e.Files, &e.Kind, &e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *DB) queryOutbox(query string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.FriendID, &e.Body, &e.Files, &e.Kind, &e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
