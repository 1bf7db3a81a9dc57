package store

import (
	"strings"
	"unicode/utf8"
)

const snippetContext = 32

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages finds cached messages whose body contains query, case
// insensitively, newest first. friendID 0 searches every conversation.
func (db *DB) SearchMessages(query string, friendID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := `
		SELECT id, friend_id, sender_id, recipient_id, body, files, client_msg_id, status, created_at
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`

	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if friendID != 0 {
		q += " AND friend_id = ?"
		args = append(args, friendID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m := &r.Message
		if err := rows.Scan(&m.ID, &m.FriendID, &m.SenderID, &m.RecipientID, &m.Body, &m.Files, &m.ClientMsgID, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		r.Snippet = snippet(m.Body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

// snippet marks the first match of query in body with << >> and trims the
// surroundings to a few dozen bytes on each side.
func snippet(body, query string) string {
	i := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if i < 0 || len(strings.ToLower(body)) != len(body) {
		return body
	}
	end := i + len(query)

	start, prefix := i-snippetContext, "..."
	if start <= 0 {
		start, prefix = 0, ""
	}
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	stop, suffix := end+snippetContext, "..."
	if stop >= len(body) {
		stop, suffix = len(body), ""
	}
	for stop < len(body) && !utf8.RuneStart(body[stop]) {
		stop++
	}
	return prefix + body[start:i] + "<<" + body[i:end] + ">>" + body[end:stop] + suffix
}
