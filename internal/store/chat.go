package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const chatColumns = `c.id,
	COALESCE(NULLIF(c.name,''), NULLIF(ct.name,''), c.id) AS display_name,
	c.is_group, c.is_unread, c.muted, c.pinned, c.pin_rank, c.last_message_at, c.last_message_preview`

// UpsertChat inserts or updates a chat. An empty name keeps the stored one.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, name, is_group, is_unread, muted, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			is_group = excluded.is_group,
			is_unread = excluded.is_unread,
			muted = excluded.muted,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.ID, c.Name, boolInt(c.IsGroup), boolInt(c.IsUnread), boolInt(c.IsMuted), c.LastMessageAt, now)
	return err
}

const touchChatSQL = `
	INSERT INTO chats (id, is_unread, last_message_at, last_message_preview, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		is_unread = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.is_unread ELSE chats.is_unread END,
		last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
		last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
		updated_at = excluded.updated_at`

// TouchChat records message activity, creating the chat if needed. Older
// activity does not move the preview backwards.
func (db *DB) TouchChat(chatID string, ts int64, preview string, unread bool) error {
	_, err := db.Exec(touchChatSQL, chatID, boolInt(unread), ts, preview, time.Now().UnixMilli())
	return err
}

// SetChatMuted updates the mute flag of a known chat.
func (db *DB) SetChatMuted(chatID string, muted bool) error {
	_, err := db.Exec(`UPDATE chats SET muted = ?, updated_at = ? WHERE id = ?`,
		boolInt(muted), time.Now().UnixMilli(), chatID)
	return err
}

// SetChatPinned updates the pin state and rank of a chat, creating it if
// needed.
func (db *DB) SetChatPinned(chatID string, pinned bool, rank int) error {
	now := time.Now().UnixMilli()
	if !pinned {
		rank = 0
	}
	_, err := db.Exec(`
		INSERT INTO chats (id, pinned, pin_rank, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pinned = excluded.pinned,
			pin_rank = excluded.pin_rank,
			updated_at = excluded.updated_at`,
		chatID, boolInt(pinned), rank, now)
	return err
}

// MarkChatRead clears the unread flag.
func (db *DB) MarkChatRead(chatID string) error {
	_, err := db.Exec(`UPDATE chats SET is_unread = 0, updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), chatID)
	return err
}

// DeleteChat removes a chat with its messages and reactions.
func (db *DB) DeleteChat(chatID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM reactions WHERE chat_id = ?`,
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM chats WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, chatID); err != nil {
			return fmt.Errorf("delete chat %q: %w", chatID, err)
		}
	}
	return tx.Commit()
}

// ListChats returns pinned chats by rank, then the rest by last activity.
// Names fall back to the contact name, then the chat id.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.id = ct.id
		ORDER BY c.pinned DESC, c.pin_rank ASC, c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat, or nil if it does not exist.
func (db *DB) GetChat(chatID string) (*Chat, error) {
	row := db.QueryRow(`
		SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.id = ct.id
		WHERE c.id = ?`, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(s scanner) (*Chat, error) {
	var c Chat
	err := s.Scan(&c.ID, &c.Name, &c.IsGroup, &c.IsUnread, &c.IsMuted, &c.IsPinned, &c.PinRank,
		&c.LastMessageAt, &c.LastMessagePreview)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
