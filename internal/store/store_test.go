package store

import (
	"context"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert chat", "INSERT INTO chats (id, name, is_group, is_unread, muted, pinned, pin_rank, last_message_at, last_message_preview) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c@s", "Test", 0, 1, 0, 1, 2, 1000, "hi"}},
		{"insert message", "INSERT INTO messages (chat_id, msg_id, sender_id, body, quoted_id, file_id, file_path, file_status, from_me, is_read, is_edited, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c@s", "m1", "s@s", "hello", "", "", "", -1, 0, 0, 0, 1000}},
		{"insert contact", "INSERT INTO contacts (id, name, phone, is_self) VALUES (?, ?, ?, ?)", []any{"j@s", "Name", "+1", 0}},
		{"insert reaction", "INSERT INTO reactions (chat_id, msg_id, sender_id, emoji) VALUES (?, ?, ?, ?)", []any{"c@s", "m1", "j@s", "👍"}},
		{"queue outbox", "INSERT INTO outbox (client_msg_id, chat_id, body, status) VALUES (?, ?, ?, ?)", []any{"cid", "c@s", "text", "queued"}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'hello'").Scan(&count)
	if err != nil {
		t.Fatalf("FTS5 query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("FTS5 count = %d, want 1", count)
	}
}

func TestChatUpsertKeepsName(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "123@s", Name: "Alice", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{ID: "123@s", LastMessageAt: 500}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("123@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}
	if c.LastMessageAt != 1000 {
		t.Errorf("last_message_at = %d, want 1000", c.LastMessageAt)
	}
}

func TestChatNameFallsBackToContact(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("b@s", 1000, "hi", true); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("b@s")
	if c.Name != "b@s" {
		t.Errorf("name = %q, want id fallback", c.Name)
	}

	if err := db.UpsertContact(&Contact{ID: "b@s", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("b@s")
	if c.Name != "Bob" || !c.IsUnread || c.LastMessagePreview != "hi" {
		t.Errorf("chat = %+v", c)
	}
}

func TestTouchChatIgnoresOlderActivity(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("c@s", 2000, "newer", false); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchChat("c@s", 1000, "older", true); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("c@s")
	if c.LastMessageAt != 2000 || c.LastMessagePreview != "newer" || c.IsUnread {
		t.Errorf("chat = %+v", c)
	}
}

func TestListChatsOrdersPinnedFirst(t *testing.T) {
	db := testDB(t)

	for _, c := range []struct {
		id string
		ts int64
	}{{"a@s", 3000}, {"b@s", 2000}, {"c@s", 1000}} {
		if err := db.TouchChat(c.id, c.ts, "", false); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SetChatPinned("c@s", true, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChatPinned("b@s", true, 2); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChatPinned("b@s", false, 2); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, c := range chats {
		order = append(order, c.ID)
	}
	want := []string{"c@s", "a@s", "b@s"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if chats[2].PinRank != 0 {
		t.Errorf("unpinned rank = %d, want 0", chats[2].PinRank)
	}
}

func TestSetChatMuted(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "g@g", IsGroup: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChatMuted("g@g", true); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("g@g")
	if !c.IsMuted || !c.IsGroup {
		t.Errorf("chat = %+v", c)
	}
}

func TestGetChatMissing(t *testing.T) {
	db := testDB(t)

	c, err := db.GetChat("missing@s")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing chat")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ChatID: "chat@s", MsgID: "msg1", Body: "hello", FileStatus: -1, Timestamp: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	msg.IsEdited = true
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("chat@s", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" || !msgs[0].IsEdited {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestMessageUpsertKeepsDownload(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", FileID: "id", FileStatus: 0, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMessageFile("c@s", "m1", "/tmp/a.jpg", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", FileID: "id", FileStatus: 0, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("c@s", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.FilePath != "/tmp/a.jpg" || m.FileStatus != 1 {
		t.Errorf("file = %q status %d", m.FilePath, m.FileStatus)
	}
}

func TestEditMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", Body: "hi", QuotedID: "q0", FileID: "f0", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	found, err := db.EditMessage("c@s", "m1", "hi edited", "")
	if err != nil || !found {
		t.Fatalf("EditMessage() = %v, %v", found, err)
	}
	m, err := db.GetMessage("c@s", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "hi edited" || !m.IsEdited || m.QuotedID != "q0" || m.FileID != "f0" {
		t.Errorf("message = %+v", m)
	}

	found, err = db.EditMessage("c@s", "ghost", "text", "")
	if err != nil || found {
		t.Fatalf("EditMessage(ghost) = %v, %v", found, err)
	}
	if m, _ := db.GetMessage("c@s", "ghost"); m != nil {
		t.Errorf("edit inserted a row: %+v", m)
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"m1", "m2", "m3"} {
		if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: id, Timestamp: int64(1000 * (i + 1))}); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := db.ListMessages("c@s", 3000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "m2" || msgs[1].MsgID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestMarkMessageRead(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageRead("c@s", "m1"); err != nil {
		t.Fatal(err)
	}
	m, _ := db.GetMessage("c@s", "m1")
	if !m.IsRead {
		t.Error("message should be read")
	}
}

func TestReactions(t *testing.T) {
	db := testDB(t)

	r := &Reaction{ChatID: "c@s", MsgID: "m1", SenderID: "a@s", Emoji: "👍"}
	if err := db.SetReaction(r); err != nil {
		t.Fatal(err)
	}
	r.Emoji = "❤️"
	if err := db.SetReaction(r); err != nil {
		t.Fatal(err)
	}
	list, err := db.ListReactions("c@s", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Emoji != "❤️" {
		t.Fatalf("reactions = %+v", list)
	}

	r.Emoji = ""
	if err := db.SetReaction(r); err != nil {
		t.Fatal(err)
	}
	list, _ = db.ListReactions("c@s", "m1")
	if len(list) != 0 {
		t.Errorf("reactions after removal = %+v", list)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", Body: "bye", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetReaction(&Reaction{ChatID: "c@s", MsgID: "m1", SenderID: "a@s", Emoji: "👍"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("c@s", "m1"); err != nil {
		t.Fatal(err)
	}
	if m, _ := db.GetMessage("c@s", "m1"); m != nil {
		t.Errorf("message still present: %+v", m)
	}
	if list, _ := db.ListReactions("c@s", "m1"); len(list) != 0 {
		t.Errorf("reactions still present: %+v", list)
	}
}

func TestPurgeChat(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("c@s", 1000, "hi", true); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", Body: "hi", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "other@s", MsgID: "m2", Body: "keep", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetReaction(&Reaction{ChatID: "c@s", MsgID: "m1", SenderID: "a@s", Emoji: "👍"}); err != nil {
		t.Fatal(err)
	}

	if err := db.PurgeChat(context.Background(), "c@s"); err != nil {
		t.Fatal(err)
	}

	if msgs, _ := db.ListMessages("c@s", 0, 10); len(msgs) != 0 {
		t.Errorf("messages after purge = %d", len(msgs))
	}
	if msgs, _ := db.ListMessages("other@s", 0, 10); len(msgs) != 1 {
		t.Errorf("other chat lost messages")
	}
	c, _ := db.GetChat("c@s")
	if c == nil || c.LastMessagePreview != "" || c.IsUnread {
		t.Errorf("chat after purge = %+v", c)
	}
}

func TestDeleteChat(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("c@s", 1000, "hi", false); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "c@s", MsgID: "m1", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteChat("c@s"); err != nil {
		t.Fatal(err)
	}
	if c, _ := db.GetChat("c@s"); c != nil {
		t.Errorf("chat still present")
	}
	if n, _ := db.MessageCount(); n != 0 {
		t.Errorf("message count = %d", n)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "chat@s", MsgID: "m1", Body: "hello world", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "chat@s", MsgID: "m2", Body: "goodbye world", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.MsgID != "m1" {
		t.Errorf("msg_id = %q, want m1", results[0].Message.MsgID)
	}

	results, err = db.SearchMessages("world", "other@s", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("chat filter ignored: %d results", len(results))
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "client1", ChatID: "chat@s", Body: "test msg"}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" || pending[0].Status != OutboxQueued {
		t.Errorf("entry = %+v", pending[0])
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
	e, err := db.GetOutbox("client1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != OutboxSent || e.ServerMsgID != "server1" {
		t.Errorf("entry = %+v", e)
	}
}

func TestOutboxRequeueSending(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "c1", ChatID: "chat@s", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	n, err := db.RequeueSending()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("requeued = %d, want 1", n)
	}
	if pending, _ := db.PendingOutbox(); len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestContact(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ID: "j@s", Name: "John", Phone: "+1555"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{ID: "j@s", Name: "Johnny"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("j@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Johnny" || c.Phone != "+1555" {
		t.Errorf("got %+v", c)
	}
}

func TestBulkUpsertContacts(t *testing.T) {
	db := testDB(t)

	err := db.BulkUpsertContacts([]Contact{
		{ID: "me@s", Name: "Me", IsSelf: true},
		{ID: "b@s", Name: "Bob"},
		{ID: "a@s", Name: "Ann"},
	})
	if err != nil {
		t.Fatal(err)
	}
	list, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || !list[0].IsSelf || list[1].Name != "Ann" {
		t.Errorf("contacts = %+v", list)
	}
}

func TestHistoryTransferredCheckpoint(t *testing.T) {
	db := testDB(t)

	done, err := db.HistoryTransferred()
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("fresh database should not be marked")
	}
	if err := db.MarkHistoryTransferred(context.Background()); err != nil {
		t.Fatal(err)
	}
	if done, _ := db.HistoryTransferred(); !done {
		t.Error("checkpoint not recorded")
	}
}
