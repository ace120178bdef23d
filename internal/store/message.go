package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, chat_id, msg_id, sender_id, body, quoted_id, file_id, file_path, file_status,
	from_me, is_read, is_edited, timestamp`

const upsertMessageSQL = `
	INSERT INTO messages (chat_id, msg_id, sender_id, body, quoted_id, file_id, file_path, file_status,
		from_me, is_read, is_edited, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id, msg_id) DO UPDATE SET
		body = excluded.body,
		quoted_id = excluded.quoted_id,
		file_id = CASE WHEN excluded.file_id != '' THEN excluded.file_id ELSE messages.file_id END,
		file_path = CASE WHEN messages.file_path != '' THEN messages.file_path ELSE excluded.file_path END,
		file_status = CASE WHEN messages.file_status = 1 THEN messages.file_status ELSE excluded.file_status END,
		is_read = MAX(messages.is_read, excluded.is_read),
		is_edited = MAX(messages.is_edited, excluded.is_edited)`

func messageArgs(m *Message, now int64) []any {
	return []any{m.ChatID, m.MsgID, m.SenderID, m.Body, m.QuotedID, m.FileID, m.FilePath, m.FileStatus,
		boolInt(m.FromMe), boolInt(m.IsRead), boolInt(m.IsEdited), m.Timestamp, now}
}

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
// A stored download keeps its file path and status.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL, messageArgs(m, time.Now().UnixMilli())...)
	return err
}

// EditMessage applies an edit to a stored message. Empty values keep the
// stored body and file id. It reports false when the message is not cached.
func (db *DB) EditMessage(chatID, msgID, body, fileID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET
			body = CASE WHEN ? != '' THEN ? ELSE body END,
			file_id = CASE WHEN ? != '' THEN ? ELSE file_id END,
			is_edited = 1
		WHERE chat_id = ? AND msg_id = ?`,
		body, body, fileID, fileID, chatID, msgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertHistory stores a batch of older messages and advances each chat's
// activity in one transaction. History never marks a chat unread.
func (db *DB) UpsertHistory(msgs []Message, preview func(*Message) string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range msgs {
		m := &msgs[i]
		if _, err := tx.Exec(touchChatSQL, m.ChatID, 0, m.Timestamp, preview(m), now); err != nil {
			return fmt.Errorf("upsert chat in batch: %w", err)
		}
		if _, err := tx.Exec(upsertMessageSQL, messageArgs(m, now)...); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetMessage returns one message, or nil if unknown.
func (db *DB) GetMessage(chatID, msgID string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkMessageRead sets the read flag of one message.
func (db *DB) MarkMessageRead(chatID, msgID string) error {
	_, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE chat_id = ? AND msg_id = ?`, chatID, msgID)
	return err
}

// SetMessageFile records the download state of a message attachment.
func (db *DB) SetMessageFile(chatID, msgID, path string, status int) error {
	_, err := db.Exec(`
		UPDATE messages SET
			file_path = CASE WHEN ? != '' THEN ? ELSE file_path END,
			file_status = ?
		WHERE chat_id = ? AND msg_id = ?`, path, path, status, chatID, msgID)
	return err
}

// DeleteMessage removes a message and its reactions.
func (db *DB) DeleteMessage(chatID, msgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM reactions WHERE chat_id = ? AND msg_id = ?`, chatID, msgID); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return tx.Commit()
}

// PurgeChat deletes the cached history of a chat and keeps the chat row.
func (db *DB) PurgeChat(ctx context.Context, chatID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("purge reactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET last_message_preview = '', is_unread = 0 WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("reset chat: %w", err)
	}
	return tx.Commit()
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.Body, &m.QuotedID, &m.FileID, &m.FilePath,
		&m.FileStatus, &m.FromMe, &m.IsRead, &m.IsEdited, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
