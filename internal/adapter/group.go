package adapter

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
)

// groupSummary describes a group change, one line per action.
func (a *Adapter) groupSummary(acc *account.Account, info protocol.MessageInfo, gc *protocol.GroupChange) []string {
	name := func(id string) string {
		if n := acc.ContactName(id); n != "" {
			return n
		}
		return id
	}
	names := func(ids []string) string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, name(id))
		}
		return strings.Join(out, ", ")
	}

	var lines []string
	var added, removed []string
	for _, id := range gc.Added {
		if id == info.SenderID {
			lines = append(lines, "[Joined]")
			continue
		}
		added = append(added, id)
	}
	if len(added) > 0 {
		lines = append(lines, "[Added "+names(added)+"]")
	}
	for _, id := range gc.Removed {
		if id == info.SenderID {
			lines = append(lines, "[Left]")
			continue
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		lines = append(lines, "[Removed "+names(removed)+"]")
	}

	if gc.NewTitle != nil {
		if title := *gc.NewTitle; title != "" {
			lines = append(lines, "[Changed group name to "+title+"]")
			acc.Notifier.NewChat(notify.Chat{ID: info.ChatID, Name: title, IsGroup: true})
			acc.Notifier.NewContact(notify.Contact{ID: info.ChatID, Name: title})
		} else {
			lines = append(lines, "[Changed group name]")
		}
	}
	if gc.DescriptionChanged {
		lines = append(lines, "[Changed group description]")
	}
	if gc.AvatarChanged {
		lines = append(lines, "[Changed group avatar]")
	}
	if gc.TimerChanged {
		lines = append(lines, "[Changed disappearing messages timer]")
	}
	if len(gc.RoleChanged) > 0 {
		lines = append(lines, "[Changed role for "+names(gc.RoleChanged)+"]")
	}

	switch {
	case gc.Invited == 1:
		lines = append(lines, "[Invited a member]")
	case gc.Invited > 1:
		lines = append(lines, fmt.Sprintf("[Invited %d members]", gc.Invited))
	}
	if gc.InvitesRevoked > 0 {
		lines = append(lines, "[Invitation revoked]")
	}
	for _, id := range gc.AcceptedInvites {
		lines = append(lines, "["+name(id)+" accepted invite]")
	}
	if gc.JoinRequests > 0 {
		lines = append(lines, "[Member requested to join]")
	}
	if gc.JoinRequestsDenied > 0 {
		lines = append(lines, "[Join request denied]")
	}
	for _, id := range gc.Approved {
		lines = append(lines, "[Approved "+name(id)+" to join]")
	}
	if gc.AnnouncementsOnly != nil {
		if *gc.AnnouncementsOnly {
			lines = append(lines, "[Enabled announcements only]")
		} else {
			lines = append(lines, "[Disabled announcements only]")
		}
	}

	if len(lines) == 0 {
		lines = append(lines, "[GroupUpdate]")
	}
	return lines
}
