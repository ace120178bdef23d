package wa

import (
	"testing"
	"time"

	"github.com/matheus3301/chatbridge/internal/markup"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const self = "me@s.whatsapp.net"

func testClient() *Client {
	return newClient(nil, self, zap.NewNop())
}

func userJID(user string) types.JID {
	return types.JID{User: user, Server: types.DefaultUserServer}
}

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"document caption", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("doc")}}, "doc"},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectContentKind(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want protocol.ContentKind
	}{
		{"text", &waE2E.Message{Conversation: proto.String("hi")}, protocol.ContentText},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, protocol.ContentText},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, protocol.ContentSticker},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, protocol.ContentContact},
		{"contacts array", &waE2E.Message{ContactsArrayMessage: &waE2E.ContactsArrayMessage{}}, protocol.ContentContact},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, protocol.ContentLocation},
		{"live location", &waE2E.Message{LiveLocationMessage: &waE2E.LiveLocationMessage{}}, protocol.ContentLocation},
		{"poll", &waE2E.Message{PollCreationMessage: &waE2E.PollCreationMessage{}}, protocol.ContentPoll},
		{"poll vote", &waE2E.Message{PollUpdateMessage: &waE2E.PollUpdateMessage{}}, protocol.ContentPollVote},
		{"empty message", &waE2E.Message{}, protocol.ContentText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectContentKind(tt.msg); got != tt.want {
				t.Errorf("detectContentKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslateLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   userJID("chat"),
				Sender: types.JID{User: "sender", Server: types.DefaultUserServer, Device: 3},
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("*hello* world")},
	}

	got, ok := testClient().translate(evt).(*protocol.Message)
	if !ok {
		t.Fatalf("translate() = %T, want *protocol.Message", testClient().translate(evt))
	}
	want := protocol.MessageInfo{
		ChatID:     "chat@s.whatsapp.net",
		SenderID:   "sender@s.whatsapp.net",
		SenderName: "Alice",
		ID:         "MSG123",
		Timestamp:  ts,
	}
	if got.Info != want {
		t.Errorf("Info = %+v, want %+v", got.Info, want)
	}
	if got.Data.Body != "*hello* world" || len(got.Data.BodyRanges) != 0 {
		t.Errorf("Body = %q ranges %v, markers should pass through", got.Data.Body, got.Data.BodyRanges)
	}
}

func TestTranslateMentionsAndQuote(t *testing.T) {
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String("hi @5511999 and @5522888!"),
		ContextInfo: &waE2E.ContextInfo{
			MentionedJID:  []string{"5511999@s.whatsapp.net", "5522888@s.whatsapp.net"},
			StanzaID:      proto.String("Q1"),
			Participant:   proto.String("5511999@s.whatsapp.net"),
			QuotedMessage: &waE2E.Message{Conversation: proto.String("original")},
		},
	}}

	dm := testClient().dataMessage(msg)
	if dm.Body != "hi \uFFFC and \uFFFC!" {
		t.Fatalf("Body = %q", dm.Body)
	}
	wantRanges := []markup.Range{
		{Start: 3, Length: 1, MentionID: "5511999@s.whatsapp.net"},
		{Start: 9, Length: 1, MentionID: "5522888@s.whatsapp.net"},
	}
	if len(dm.BodyRanges) != len(wantRanges) {
		t.Fatalf("ranges = %v", dm.BodyRanges)
	}
	for i := range wantRanges {
		if dm.BodyRanges[i] != wantRanges[i] {
			t.Errorf("range %d = %+v, want %+v", i, dm.BodyRanges[i], wantRanges[i])
		}
	}
	if dm.Quote == nil || dm.Quote.ID != "Q1" || dm.Quote.AuthorID != "5511999@s.whatsapp.net" || dm.Quote.Text != "original" {
		t.Errorf("Quote = %+v", dm.Quote)
	}
}

func TestTranslateMentionMissingToken(t *testing.T) {
	body, ranges := testClient().mentions("no tokens here", []string{"123@s.whatsapp.net"})
	if body != "no tokens here" || len(ranges) != 0 {
		t.Errorf("mentions() = %q, %v", body, ranges)
	}
}

func TestTranslateAttachment(t *testing.T) {
	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String("https://mmg.whatsapp.net/x"),
		DirectPath:    proto.String("/v/t62/x"),
		MediaKey:      []byte{1},
		FileEncSHA256: []byte{2},
		FileSHA256:    []byte{3},
		FileLength:    proto.Uint64(42),
		Mimetype:      proto.String("application/pdf"),
		FileName:      proto.String("report.pdf"),
		Caption:       proto.String("see attached"),
	}}

	dm := testClient().dataMessage(msg)
	if dm.Body != "see attached" {
		t.Errorf("Body = %q", dm.Body)
	}
	if len(dm.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(dm.Attachments))
	}
	p := dm.Attachments[0]
	if p.URL != "https://mmg.whatsapp.net/x" || p.CdnKey != "/v/t62/x" || p.MediaType != "WhatsApp Document Keys" {
		t.Errorf("pointer locator = %+v", p)
	}
	if p.Size != 42 || p.ContentType != "application/pdf" || p.FileName != "report.pdf" {
		t.Errorf("pointer metadata = %+v", p)
	}
	if !p.HasLocator() {
		t.Error("pointer should have a locator")
	}
}

func TestTranslateProtocolMessages(t *testing.T) {
	info := protocol.MessageInfo{ChatID: "peer@s.whatsapp.net", SenderID: "peer@s.whatsapp.net", ID: "P1"}
	c := testClient()

	revoke := &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		Key:  &waCommon.MessageKey{ID: proto.String("T1")},
	}}
	m, ok := c.translateMessage(info, revoke).(*protocol.Message)
	if !ok || m.Data.Delete == nil {
		t.Fatalf("revoke = %#v", c.translateMessage(info, revoke))
	}
	if m.Data.Delete.TargetID != "T1" || m.Data.Delete.TargetAuthorID != "peer@s.whatsapp.net" {
		t.Errorf("Delete = %+v", m.Data.Delete)
	}

	edit := &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type:          waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
		Key:           &waCommon.MessageKey{ID: proto.String("T2")},
		EditedMessage: &waE2E.Message{Conversation: proto.String("fixed")},
	}}
	e, ok := c.translateMessage(info, edit).(*protocol.Edit)
	if !ok || e.TargetID != "T2" || e.Data.Body != "fixed" {
		t.Errorf("edit = %#v", c.translateMessage(info, edit))
	}

	ephemeral := &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_EPHEMERAL_SETTING.Enum(),
	}}
	m, ok = c.translateMessage(info, ephemeral).(*protocol.Message)
	if !ok || m.Data.Flags&protocol.FlagExpirationTimerUpdate == 0 {
		t.Errorf("ephemeral = %#v", c.translateMessage(info, ephemeral))
	}

	other := &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_HISTORY_SYNC_NOTIFICATION.Enum(),
	}}
	if _, ok := c.translateMessage(info, other).(*protocol.Unhandled); !ok {
		t.Errorf("history notification = %#v", c.translateMessage(info, other))
	}
}

func TestTranslateReaction(t *testing.T) {
	c := testClient()
	info := protocol.MessageInfo{ChatID: "peer@s.whatsapp.net", SenderID: "peer@s.whatsapp.net"}

	react := &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{
		Text: proto.String("👍"),
		Key:  &waCommon.MessageKey{ID: proto.String("T1"), FromMe: proto.Bool(true)},
	}}
	m := c.translateMessage(info, react).(*protocol.Message)
	r := m.Data.Reaction
	if r == nil || r.Emoji != "👍" || r.Remove || r.TargetID != "T1" || r.TargetAuthorID != self {
		t.Errorf("Reaction = %+v", r)
	}

	unreact := &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{
		Text: proto.String(""),
		Key:  &waCommon.MessageKey{ID: proto.String("T1")},
	}}
	m = c.translateMessage(info, unreact).(*protocol.Message)
	if !m.Data.Reaction.Remove || m.Data.Reaction.TargetAuthorID != "peer@s.whatsapp.net" {
		t.Errorf("removal = %+v", m.Data.Reaction)
	}
}

func TestKeyAuthor(t *testing.T) {
	c := testClient()
	tests := []struct {
		name        string
		info        protocol.MessageInfo
		participant string
		fromMe      bool
		want        string
	}{
		{"participant wins", protocol.MessageInfo{IsGroup: true}, "bob@s.whatsapp.net", false, "bob@s.whatsapp.net"},
		{"own message from peer", protocol.MessageInfo{SenderID: "peer@s.whatsapp.net"}, "", true, self},
		{"own message from self", protocol.MessageInfo{SenderID: self, FromMe: true}, "", true, self},
		{"peer message from self", protocol.MessageInfo{ChatID: "peer@s.whatsapp.net", FromMe: true}, "", false, "peer@s.whatsapp.net"},
		{"group without participant", protocol.MessageInfo{IsGroup: true}, "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.keyAuthor(tt.info, tt.participant, tt.fromMe); got != tt.want {
				t.Errorf("keyAuthor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslateReceipts(t *testing.T) {
	c := testClient()
	base := events.Receipt{
		MessageSource: types.MessageSource{Chat: userJID("peer"), Sender: userJID("peer")},
		MessageIDs:    []types.MessageID{"A", "B"},
	}

	tests := []struct {
		typ  types.ReceiptType
		want protocol.ReceiptType
	}{
		{types.ReceiptTypeDelivered, protocol.ReceiptDelivery},
		{types.ReceiptTypeRead, protocol.ReceiptRead},
		{types.ReceiptTypePlayed, protocol.ReceiptViewed},
	}
	for _, tt := range tests {
		e := base
		e.Type = tt.typ
		r, ok := c.translate(&e).(*protocol.Receipt)
		if !ok || r.Type != tt.want || len(r.MessageIDs) != 2 || r.Info.ChatID != "peer@s.whatsapp.net" {
			t.Errorf("receipt %q = %#v", tt.typ, c.translate(&e))
		}
	}

	e := base
	e.Type = types.ReceiptTypeReadSelf
	rs, ok := c.translate(&e).(*protocol.ReadSelf)
	if !ok || len(rs.Messages) != 2 || rs.Messages[1].MessageID != "B" {
		t.Errorf("read self = %#v", c.translate(&e))
	}

	e.Type = types.ReceiptTypeRetry
	if evt := c.translate(&e); evt != nil {
		t.Errorf("retry receipt = %#v, want nil", evt)
	}
}

func TestTranslateGroupInfo(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	sender := userJID("bob")
	evt := &events.GroupInfo{
		JID:       types.JID{User: "123", Server: types.GroupServer},
		Sender:    &sender,
		Timestamp: ts,
		Name:      &types.GroupName{Name: "Weekend"},
		Join:      []types.JID{userJID("bob")},
		Leave:     []types.JID{userJID("dave")},
		Promote:   []types.JID{userJID("erin")},
		Announce:  &types.GroupAnnounce{IsAnnounce: true},
	}

	m, ok := testClient().translate(evt).(*protocol.Message)
	if !ok {
		t.Fatalf("translate() = %T", testClient().translate(evt))
	}
	if m.Info.ChatID != "123@g.us" || m.Info.SenderID != "bob@s.whatsapp.net" || !m.Info.IsGroup {
		t.Errorf("Info = %+v", m.Info)
	}
	if m.Info.ID != "group-1700000000000" {
		t.Errorf("ID = %q", m.Info.ID)
	}
	gc := m.Data.GroupChange
	if gc.NewTitle == nil || *gc.NewTitle != "Weekend" {
		t.Errorf("NewTitle = %v", gc.NewTitle)
	}
	if len(gc.Added) != 1 || len(gc.Removed) != 1 || len(gc.RoleChanged) != 1 {
		t.Errorf("members = %+v", gc)
	}
	if gc.AnnouncementsOnly == nil || !*gc.AnnouncementsOnly {
		t.Errorf("AnnouncementsOnly = %v", gc.AnnouncementsOnly)
	}
}

func TestTranslatePins(t *testing.T) {
	c := testClient()
	pin := func(user string, pinned bool) []string {
		evt := &events.Pin{JID: userJID(user), Action: &waSyncAction.PinAction{Pinned: proto.Bool(pinned)}}
		return c.translate(evt).(*protocol.PinnedChanged).ChatIDs
	}

	pin("a", true)
	got := pin("b", true)
	if len(got) != 2 || got[0] != "b@s.whatsapp.net" || got[1] != "a@s.whatsapp.net" {
		t.Errorf("after two pins = %v", got)
	}
	got = pin("b", false)
	if len(got) != 1 || got[0] != "a@s.whatsapp.net" {
		t.Errorf("after unpin = %v", got)
	}
}

func TestTranslateCalls(t *testing.T) {
	c := testClient()
	meta := types.BasicCallMeta{From: userJID("peer"), Timestamp: time.Unix(10, 0), CallID: "C1"}

	offer, ok := c.translate(&events.CallOffer{BasicCallMeta: meta}).(*protocol.Call)
	if !ok || !offer.Ringing || offer.ChatID != "peer@s.whatsapp.net" {
		t.Fatalf("offer = %#v", offer)
	}
	missed, ok := c.translate(&events.CallTerminate{BasicCallMeta: meta}).(*protocol.Call)
	if !ok || missed.Ringing {
		t.Errorf("unanswered terminate = %#v", missed)
	}

	meta.CallID = "C2"
	c.translate(&events.CallOffer{BasicCallMeta: meta})
	if evt := c.translate(&events.CallAccept{BasicCallMeta: meta}); evt != nil {
		t.Errorf("accept = %#v", evt)
	}
	if evt := c.translate(&events.CallTerminate{BasicCallMeta: meta}); evt != nil {
		t.Errorf("answered terminate = %#v, want nil", evt)
	}
}

func TestTranslateDeletes(t *testing.T) {
	c := testClient()
	d, ok := c.translate(&events.DeleteForMe{
		ChatJID:   types.JID{User: "123", Server: types.GroupServer},
		SenderJID: userJID("bob"),
		MessageID: "M1",
	}).(*protocol.DeleteForMe)
	if !ok || len(d.MessageDeletes) != 1 {
		t.Fatalf("delete for me = %#v", d)
	}
	md := d.MessageDeletes[0]
	if md.Conversation.GroupID != "123@g.us" || md.Messages[0].AuthorID != "bob@s.whatsapp.net" || md.Messages[0].MessageID != "M1" {
		t.Errorf("MessageDelete = %+v", md)
	}

	d = c.translate(&events.DeleteChat{JID: userJID("peer")}).(*protocol.DeleteForMe)
	if len(d.ConversationDeletes) != 1 || d.ConversationDeletes[0].Conversation.ServiceID != "peer@s.whatsapp.net" {
		t.Errorf("ConversationDeletes = %+v", d.ConversationDeletes)
	}
}

func TestTranslateUnhandled(t *testing.T) {
	if _, ok := testClient().translate(&events.IdentityChange{}).(*protocol.Unhandled); !ok {
		t.Error("unknown events should be reported as unhandled")
	}
	if evt := testClient().translate(&events.OfflineSyncCompleted{}); evt != nil {
		t.Errorf("sync marker = %#v, want nil", evt)
	}
}

func TestTranslateHistory(t *testing.T) {
	c := testClient()
	data := &waHistorySync.HistorySync{
		SyncType: waHistorySync.HistorySync_INITIAL_BOOTSTRAP.Enum(),
		Conversations: []*waHistorySync.Conversation{
			{
				ID:     proto.String("peer@s.whatsapp.net"),
				Pinned: proto.Uint32(100),
				Messages: []*waHistorySync.HistorySyncMsg{
					{Message: &waWeb.WebMessageInfo{
						Key:              &waCommon.MessageKey{ID: proto.String("M2"), FromMe: proto.Bool(true)},
						MessageTimestamp: proto.Uint64(200),
						Message:          &waE2E.Message{Conversation: proto.String("second")},
					}},
					{Message: &waWeb.WebMessageInfo{
						Key:              &waCommon.MessageKey{ID: proto.String("M1")},
						MessageTimestamp: proto.Uint64(100),
						PushName:         proto.String("Peer"),
						Message:          &waE2E.Message{Conversation: proto.String("first")},
					}},
					{Message: &waWeb.WebMessageInfo{Key: &waCommon.MessageKey{ID: proto.String("empty")}}},
				},
			},
			{
				ID:          proto.String("123@g.us"),
				Pinned:      proto.Uint32(200),
				MuteEndTime: proto.Uint64(uint64(time.Now().Add(time.Hour).Unix())),
				Messages: []*waHistorySync.HistorySyncMsg{
					{Message: &waWeb.WebMessageInfo{
						Key:              &waCommon.MessageKey{ID: proto.String("G1")},
						Participant:      proto.String("bob@s.whatsapp.net"),
						MessageTimestamp: proto.Uint64(300),
						Message:          &waE2E.Message{Conversation: proto.String("group")},
					}},
				},
			},
		},
	}

	out := c.translateHistory(data)
	if len(out) != 4 {
		t.Fatalf("events = %d (%#v), want 4", len(out), out)
	}

	batch := out[0].(*protocol.HistoryBatch)
	if batch.ChatID != "peer@s.whatsapp.net" || len(batch.Messages) != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	first, second := batch.Messages[0], batch.Messages[1]
	if first.Info.ID != "M1" || first.Info.SenderID != "peer@s.whatsapp.net" || first.Info.SenderName != "Peer" {
		t.Errorf("first = %+v", first.Info)
	}
	if second.Info.ID != "M2" || !second.Info.FromMe || second.Info.SenderID != self {
		t.Errorf("second = %+v", second.Info)
	}

	group := out[1].(*protocol.HistoryBatch)
	if group.Messages[0].Info.SenderID != "bob@s.whatsapp.net" || !group.Messages[0].Info.IsGroup {
		t.Errorf("group message = %+v", group.Messages[0].Info)
	}
	if mute, ok := out[2].(*protocol.MuteChanged); !ok || mute.ChatID != "123@g.us" || !mute.Muted {
		t.Errorf("mute = %#v", out[2])
	}
	pins, ok := out[3].(*protocol.PinnedChanged)
	if !ok || len(pins.ChatIDs) != 2 || pins.ChatIDs[0] != "123@g.us" {
		t.Errorf("pins = %#v", out[3])
	}
}
