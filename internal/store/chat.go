package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceChats swaps the cached chat list for chats, keeping their order.
func (db *DB) ReplaceChats(chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chats`); err != nil {
		return fmt.Errorf("clear chats: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, c := range chats {
		if _, err := tx.Exec(`
			INSERT INTO chats (friend_id, friend_name, last_message, last_time_stamp, unread_count, profile_image, has_attachment, position, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(friend_id) DO NOTHING`,
			c.FriendID, c.FriendName, c.LastMessage, c.LastTimeStamp, max(c.UnreadCount, 0),
			c.ProfileImage, c.HasAttachment, i, now); err != nil {
			return fmt.Errorf("insert chat %d: %w", c.FriendID, err)
		}
	}
	return tx.Commit()
}

// ListChats returns cached chats, most recent first.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT friend_id, friend_name, last_message, last_time_stamp, unread_count, profile_image, has_attachment, position
		FROM chats
		ORDER BY position ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.FriendID, &c.FriendName, &c.LastMessage, &c.LastTimeStamp, &c.UnreadCount, &c.ProfileImage, &c.HasAttachment, &c.Position); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat, or nil when it is not cached.
func (db *DB) GetChat(friendID int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT friend_id, friend_name, last_message, last_time_stamp, unread_count, profile_image, has_attachment, position
		FROM chats WHERE friend_id = ?`, friendID).
		Scan(&c.FriendID, &c.FriendName, &c.LastMessage, &c.LastTimeStamp, &c.UnreadCount, &c.ProfileImage, &c.HasAttachment, &c.Position)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
