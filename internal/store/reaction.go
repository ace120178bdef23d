package store

import "time"

// SetReaction stores a sender's reaction. An empty emoji removes it.
func (db *DB) SetReaction(r *Reaction) error {
	if r.Emoji == "" {
		_, err := db.Exec(`DELETE FROM reactions WHERE chat_id = ? AND msg_id = ? AND sender_id = ?`,
			r.ChatID, r.MsgID, r.SenderID)
		return err
	}
	_, err := db.Exec(`
		INSERT INTO reactions (chat_id, msg_id, sender_id, emoji, from_me, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id, sender_id) DO UPDATE SET
			emoji = excluded.emoji,
			updated_at = excluded.updated_at`,
		r.ChatID, r.MsgID, r.SenderID, r.Emoji, boolInt(r.FromMe), time.Now().UnixMilli())
	return err
}

// ListReactions returns the reactions on a message.
func (db *DB) ListReactions(chatID, msgID string) ([]Reaction, error) {
	rows, err := db.Query(`
		SELECT chat_id, msg_id, sender_id, emoji, from_me
		FROM reactions WHERE chat_id = ? AND msg_id = ?
		ORDER BY updated_at`, chatID, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ChatID, &r.MsgID, &r.SenderID, &r.Emoji, &r.FromMe); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
