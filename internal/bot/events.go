package bot

import (
	"github.com/atinyakov/GophRelay/internal/models"
)

// Event is an inbound update after classification. The concrete types below
// are the only implementations.
type Event interface {
	source() models.Inbound
}

// IncomingUserMessage is a private, non-command message from an end user.
type IncomingUserMessage struct{ models.Inbound }

// AdminReply is a non-command message from the administrator, expected to
// reply to a forwarded message.
type AdminReply struct{ models.Inbound }

// AdminCommand is a command issued by the administrator.
type AdminCommand struct {
	models.Inbound
	Command Command
}

// UserCommand is a command issued by anyone else.
type UserCommand struct {
	models.Inbound
	Command Command
}

// ButtonPress is a press of an inline button. Err is set when the button
// data cannot be parsed.
type ButtonPress struct {
	models.Inbound
	Action string
	Target models.UserID
	Err    error
}

// Ignored is an update the bot does not act on.
type Ignored struct {
	models.Inbound
	Reason string
}

func (e IncomingUserMessage) source() models.Inbound { return e.Inbound }
func (e AdminReply) source() models.Inbound          { return e.Inbound }
func (e AdminCommand) source() models.Inbound        { return e.Inbound }
func (e UserCommand) source() models.Inbound         { return e.Inbound }
func (e ButtonPress) source() models.Inbound         { return e.Inbound }
func (e Ignored) source() models.Inbound             { return e.Inbound }

// Classify turns an inbound update into a typed event.
//
// Commands are recognised in any chat. Other messages are relayed only from
// private chats; in groups only administrator replies to the bot's own
// messages are taken, so that the backup group can be answered from.
func Classify(in models.Inbound, adminID models.UserID, botUsername string) Event {
	if in.Callback != nil {
		action, target, err := ParseAction(in.Callback.Data)
		return ButtonPress{Inbound: in, Action: action, Target: target, Err: err}
	}

	isAdmin := in.From.ID == adminID
	if in.Content.IsText() {
		if cmd, ok := ParseCommand(in.Content.Text, botUsername); ok {
			if isAdmin {
				return AdminCommand{Inbound: in, Command: cmd}
			}
			return UserCommand{Inbound: in, Command: cmd}
		}
	}

	private := in.Chat.Type == models.ChatPrivate
	switch {
	case isAdmin && (private || (in.ReplyTo != nil && in.ReplyToBot)):
		return AdminReply{Inbound: in}
	case !private:
		return Ignored{Inbound: in, Reason: "not a private chat"}
	}
	return IncomingUserMessage{Inbound: in}
}
