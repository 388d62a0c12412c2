package bot

import (
	"fmt"
	"strings"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/service"
	"github.com/atinyakov/GophRelay/internal/transport/telegram"
	"go.uber.org/multierr"
)

// User-visible texts.
const (
	textWelcome          = "Welcome to the Relay Bot. Please authenticate yourself.\n\n"
	textAuthFailed       = "Authentication failed. Please try again.\n\n"
	textAuthOK           = "Authentication successful! You can now use the bot."
	textAlreadyAuthed    = "You are already authenticated. You can use the bot."
	textMessageRelayed   = "Message relayed to the admin!"
	textMediaRelayed     = "Media relayed to the admin!"
	textRelayFailed      = "Sorry, your message could not be delivered to the admin. Please try again later."
	textAdminWelcome     = "Welcome back, Admin! You're already authenticated."
	textStatusAdmin      = "You are the admin. Always authenticated."
	textStatusAuthed     = "You are authenticated. You can use the bot."
	textStatusNotAuthed  = "You are not authenticated. Use /start to authenticate."
	textSetupNotAdmin    = "Only the admin can set up the backup group."
	textSetupNotGroup    = "This command should only be used in a group chat."
	textSetupDone        = "Backup group has been set up with ID: %d\nThis group will now receive all messages sent to the bot."
	textAdminOnly        = "Only the admin can use this command."
	textUnknownCommand   = "Unknown command. Use /help to see the available commands."
	textNoCorrelation    = "I can't tell who this reply is for. Reply to a forwarded message, or press its Reply button, to answer a user."
	textReplyBlocked     = "User %d is blocked; the reply was not delivered."
	textReplyFailed      = "Failed to deliver the reply to user %d: %v"
	textReplyUnreachable = "User %d has blocked the bot or deleted the account."
	textUnknownUser      = "Unknown user %d."
	textBlocked          = "User %s (ID: %d) has been blocked."
	textUnblocked        = "User %s (ID: %d) has been unblocked."
	textCannotBlockSelf  = "You can't block yourself."
	textNoUsers          = "No users yet."
	textQuestionSet      = "Security question updated.\nQuestion: %s"
	textBroadcastStart   = "Broadcast started."
	textBroadcastDone    = "Broadcast %s finished: %d delivered, %d failed."
	textBroadcastFailed  = "\nFailed: %s"
	textBroadcastGone    = "\n%d of them blocked the bot or deleted the account."
	textInternalError    = "Something went wrong. Please try again."

	usageBroadcast   = "Usage: /broadcast <message>"
	usageBlock       = "Usage: /block <user_id>"
	usageUnblock     = "Usage: /unblock <user_id>"
	usageSetQuestion = "Usage: /setquestion <question>|<answer>"

	answerUnauthorized = "Unauthorized"
	answerUnknown      = "Unknown action"
	answerBlocked      = "User blocked"
	answerReplying     = "Type your reply"
)

const textHelp = "Available commands:\n" +
	"/start - Start the bot and authenticate\n" +
	"/help - Show this help message\n" +
	"/status - Check your authentication status\n" +
	"/setupgroup - Set current group as backup (admin only)\n\n" +
	"Just send any message and I'll relay it to the admin!"

const textAdminHelp = "\n\nAdmin commands:\n" +
	"/broadcast <message> - Send a message to every authenticated user\n" +
	"/block <user_id> - Stop relaying from and to a user\n" +
	"/unblock <user_id> - Restore a blocked user\n" +
	"/users - List known users\n" +
	"/setquestion <question>|<answer> - Replace the security question\n\n" +
	"Reply to a forwarded message to answer its sender."

// maxListChunk keeps /users replies under the transport message limit.
const maxListChunk = 3500

func formatUser(u models.UserRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", u.ID, u.Label())
	if u.Username != "" && u.DisplayName != "" {
		fmt.Fprintf(&b, " (@%s)", u.Username)
	}
	fmt.Fprintf(&b, " [%s]", u.EffectiveState())
	if !u.LastActiveAt.IsZero() {
		fmt.Fprintf(&b, " last seen %s", u.LastActiveAt.UTC().Format("2006-01-02 15:04"))
	}
	return b.String()
}

// formatUsers renders the /users listing split into transport-sized chunks.
func formatUsers(users []models.UserRecord) []string {
	if len(users) == 0 {
		return []string{textNoUsers}
	}
	var (
		chunks []string
		b      strings.Builder
	)
	fmt.Fprintf(&b, "Users (%d):", len(users))
	for _, u := range users {
		line := formatUser(u)
		if b.Len()+len(line)+1 > maxListChunk {
			chunks = append(chunks, b.String())
			b.Reset()
		} else {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return append(chunks, b.String())
}

func formatBroadcast(res service.BroadcastResult) string {
	s := fmt.Sprintf(textBroadcastDone, res.JobID, res.Succeeded, res.Failed)
	if len(res.FailedUsers) > 0 {
		ids := make([]string, 0, len(res.FailedUsers))
		for _, id := range res.FailedUsers {
			ids = append(ids, fmt.Sprint(id))
		}
		s += fmt.Sprintf(textBroadcastFailed, strings.Join(ids, ", "))
	}
	gone := 0
	for _, err := range multierr.Errors(res.Err) {
		if telegram.IsUnreachable(err) {
			gone++
		}
	}
	if gone > 0 {
		s += fmt.Sprintf(textBroadcastGone, gone)
	}
	return s
}
