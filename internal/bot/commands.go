package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/service"
)

// Command names understood by the bot.
const (
	CmdStart       = "start"
	CmdHelp        = "help"
	CmdStatus      = "status"
	CmdSetupGroup  = "setupgroup"
	CmdBroadcast   = "broadcast"
	CmdBlock       = "block"
	CmdUnblock     = "unblock"
	CmdUsers       = "users"
	CmdSetQuestion = "setquestion"
)

// Command is a parsed slash command.
type Command struct {
	// Name is lower-cased and carries no slash or @mention.
	Name string
	// Args is everything after the name, trimmed.
	Args string
}

// ParseCommand parses "/name[@bot] args". ok is false for text that is not
// a command or that addresses another bot. botUsername may be empty, in
// which case any mention is accepted.
func ParseCommand(text, botUsername string) (cmd Command, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	head, args := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, args = head[:i], head[i:]
	}
	name, mention, hasMention := strings.Cut(head, "@")
	if name == "" {
		return Command{}, false
	}
	if hasMention && botUsername != "" && !strings.EqualFold(mention, strings.TrimPrefix(botUsername, "@")) {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// ParseUserID parses the single user id argument of /block and /unblock.
func ParseUserID(args string) (models.UserID, error) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return 0, fmt.Errorf("%w: expected exactly one user id", service.ErrMalformedInput)
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", service.ErrMalformedInput, fields[0])
	}
	return id, nil
}

// ParseAction parses the callback data of a forwarded-message button.
func ParseAction(data string) (action string, target models.UserID, err error) {
	action, raw, ok := strings.Cut(data, ":")
	if !ok || (action != service.ActionReply && action != service.ActionBlock) {
		return "", 0, fmt.Errorf("%w: unknown button %q", service.ErrMalformedInput, data)
	}
	target, err = ParseUserID(raw)
	if err != nil {
		return "", 0, err
	}
	return action, target, nil
}
