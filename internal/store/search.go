package store

// SearchMessages performs a full-text search on message bodies, optionally
// limited to one chat.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.chat_id, m.msg_id, m.sender_id, m.body, m.quoted_id, m.file_id, m.file_path,
		       m.file_status, m.from_me, m.is_read, m.is_edited, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
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
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.Body, &m.QuotedID, &m.FileID, &m.FilePath,
			&m.FileStatus, &m.FromMe, &m.IsRead, &m.IsEdited, &m.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
