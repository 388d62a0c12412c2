// Package bot turns inbound updates into relay operations: it classifies
// updates into typed events, parses the command grammar, dispatches events
// per user and renders every user-visible reply.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/service"
	"github.com/atinyakov/GophRelay/internal/transport/telegram"
	"go.uber.org/zap"
)

// Config holds the identity the bot runs as.
type Config struct {
	AdminID models.UserID
	// BotUsername is matched against /cmd@name mentions. Empty accepts any.
	BotUsername string
}

// Bot handles classified events with the relay services.
type Bot struct {
	auth       *service.AuthService
	relay      *service.RelayService
	correlator *service.Correlator
	admin      *service.AdminService
	cfg        Config
	log        *zap.Logger

	jobs sync.WaitGroup
}

// New constructs a Bot.
func New(auth *service.AuthService, relay *service.RelayService, correlator *service.Correlator, admin *service.AdminService, cfg Config, log *zap.Logger) *Bot {
	return &Bot{
		auth:       auth,
		relay:      relay,
		correlator: correlator,
		admin:      admin,
		cfg:        cfg,
		log:        log,
	}
}

// Wait blocks until background jobs started by commands, such as
// broadcasts, have finished.
func (b *Bot) Wait() {
	b.jobs.Wait()
}

// Handle classifies in and acts on it.
func (b *Bot) Handle(ctx context.Context, in models.Inbound) {
	switch ev := Classify(in, b.cfg.AdminID, b.cfg.BotUsername).(type) {
	case IncomingUserMessage:
		b.onUserMessage(ctx, ev)
	case AdminReply:
		b.onAdminReply(ctx, ev)
	case AdminCommand:
		b.onCommand(ctx, ev.Inbound, ev.Command, true)
	case UserCommand:
		b.onCommand(ctx, ev.Inbound, ev.Command, false)
	case ButtonPress:
		b.onButton(ctx, ev)
	case Ignored:
		b.log.Debug("ignoring update", zap.Int64("update_id", ev.UpdateID), zap.String("reason", ev.Reason))
	}
}

func (b *Bot) onUserMessage(ctx context.Context, ev IncomingUserMessage) {
	d, err := b.auth.HandleIncoming(ctx, ev.From, ev.Content)
	if err != nil {
		b.log.Error("failed to gate message", zap.Int64("user_id", ev.From.ID), zap.Error(err))
		b.reply(ctx, ev.Chat.ID, textInternalError)
		return
	}
	b.log.Debug("message gated", zap.Int64("user_id", ev.From.ID), zap.Stringer("outcome", d.Outcome))

	switch d.Outcome {
	case service.ChallengeIssued:
		b.reply(ctx, ev.Chat.ID, textWelcome+d.Question)
	case service.RetryChallenge:
		b.reply(ctx, ev.Chat.ID, textAuthFailed+d.Question)
	case service.BlockedRejected:
		// Blocked users get no answer.
	case service.AuthenticatedPassthrough:
		if d.Consumed {
			b.reply(ctx, ev.Chat.ID, textAuthOK)
			return
		}
		if _, err := b.relay.ForwardToAdmin(ctx, ev.From.ID, ev.Content); err != nil {
			b.log.Error("failed to forward message", zap.Int64("user_id", ev.From.ID), zap.Error(err))
			if !errors.Is(err, service.ErrBlockedRejected) {
				b.reply(ctx, ev.Chat.ID, textRelayFailed)
			}
			return
		}
		if ev.Content.IsText() {
			b.reply(ctx, ev.Chat.ID, textMessageRelayed)
		} else {
			b.reply(ctx, ev.Chat.ID, textMediaRelayed)
		}
	}
}

func (b *Bot) onAdminReply(ctx context.Context, ev AdminReply) {
	user, err := b.correlator.Resolve(ctx, ev.Inbound)
	if err != nil {
		if !errors.Is(err, service.ErrNoCorrelation) {
			b.log.Error("failed to resolve reply", zap.Error(err))
		}
		b.reply(ctx, ev.Chat.ID, textNoCorrelation)
		return
	}

	err = b.relay.DeliverToUser(ctx, user, ev.Content)
	switch {
	case err == nil:
		b.log.Info("reply delivered", zap.Int64("user_id", user))
	case errors.Is(err, service.ErrBlockedRejected):
		b.reply(ctx, ev.Chat.ID, fmt.Sprintf(textReplyBlocked, user))
	case errors.Is(err, service.ErrNotFound):
		b.reply(ctx, ev.Chat.ID, fmt.Sprintf(textUnknownUser, user))
	case telegram.IsUnreachable(err):
		b.log.Info("user is unreachable", zap.Int64("user_id", user), zap.Error(err))
		b.reply(ctx, ev.Chat.ID, fmt.Sprintf(textReplyUnreachable, user))
	default:
		b.log.Warn("failed to deliver reply", zap.Int64("user_id", user), zap.Error(err))
		b.reply(ctx, ev.Chat.ID, fmt.Sprintf(textReplyFailed, user, err))
	}
}

func (b *Bot) onCommand(ctx context.Context, in models.Inbound, cmd Command, isAdmin bool) {
	chat := in.Chat.ID
	// Start touches the record itself.
	if !isAdmin && cmd.Name != CmdStart {
		rec, err := b.auth.Seen(ctx, in.From)
		if err != nil {
			b.log.Error("failed to record contact", zap.Int64("user_id", in.From.ID), zap.Error(err))
		} else if rec.Blocked {
			b.log.Debug("command from blocked user ignored", zap.Int64("user_id", in.From.ID), zap.String("command", cmd.Name))
			return
		}
	}
	switch cmd.Name {
	case CmdStart:
		b.onStart(ctx, in, isAdmin)
	case CmdHelp:
		text := textHelp
		if isAdmin {
			text += textAdminHelp
		}
		b.reply(ctx, chat, text)
	case CmdStatus:
		b.onStatus(ctx, in, isAdmin)
	case CmdSetupGroup:
		b.onSetupGroup(ctx, in)
	case CmdBroadcast, CmdBlock, CmdUnblock, CmdUsers, CmdSetQuestion:
		if !isAdmin {
			b.reply(ctx, chat, textAdminOnly)
			return
		}
		b.onAdminCommand(ctx, in, cmd)
	default:
		b.reply(ctx, chat, textUnknownCommand)
	}
}

func (b *Bot) onStart(ctx context.Context, in models.Inbound, isAdmin bool) {
	if isAdmin {
		b.reply(ctx, in.Chat.ID, textAdminWelcome)
		return
	}
	d, err := b.auth.Start(ctx, in.From)
	if err != nil {
		b.log.Error("failed to start session", zap.Int64("user_id", in.From.ID), zap.Error(err))
		b.reply(ctx, in.Chat.ID, textInternalError)
		return
	}
	switch d.Outcome {
	case service.ChallengeIssued:
		b.reply(ctx, in.Chat.ID, textWelcome+d.Question)
	case service.AuthenticatedPassthrough:
		b.reply(ctx, in.Chat.ID, textAlreadyAuthed)
	}
}

func (b *Bot) onStatus(ctx context.Context, in models.Inbound, isAdmin bool) {
	if isAdmin {
		b.reply(ctx, in.Chat.ID, textStatusAdmin)
		return
	}
	switch b.auth.Status(in.From.ID) {
	case models.AuthBlocked:
	case models.AuthAuthenticated:
		b.reply(ctx, in.Chat.ID, textStatusAuthed)
	default:
		b.reply(ctx, in.Chat.ID, textStatusNotAuthed)
	}
}

func (b *Bot) onSetupGroup(ctx context.Context, in models.Inbound) {
	if in.From.ID != b.cfg.AdminID {
		b.reply(ctx, in.Chat.ID, textSetupNotAdmin)
		return
	}
	if !in.Chat.IsGroup() {
		b.reply(ctx, in.Chat.ID, textSetupNotGroup)
		return
	}
	if err := b.admin.SetupBackupGroup(ctx, in.From.ID, in.Chat.ID); err != nil {
		b.log.Error("failed to set up backup group", zap.Int64("chat_id", in.Chat.ID), zap.Error(err))
		b.reply(ctx, in.Chat.ID, textInternalError)
		return
	}
	b.reply(ctx, in.Chat.ID, fmt.Sprintf(textSetupDone, in.Chat.ID))
}

func (b *Bot) onAdminCommand(ctx context.Context, in models.Inbound, cmd Command) {
	chat, caller := in.Chat.ID, in.From.ID
	switch cmd.Name {
	case CmdBroadcast:
		if cmd.Args == "" {
			b.reply(ctx, chat, usageBroadcast)
			return
		}
		b.reply(ctx, chat, textBroadcastStart)
		b.jobs.Add(1)
		go func() {
			defer b.jobs.Done()
			res, err := b.admin.Broadcast(ctx, caller, models.Text(cmd.Args))
			if err != nil {
				b.reply(ctx, chat, b.describe(err, usageBroadcast))
				return
			}
			b.reply(ctx, chat, formatBroadcast(res))
		}()

	case CmdBlock, CmdUnblock:
		usage, op, done := usageBlock, b.admin.Block, textBlocked
		if cmd.Name == CmdUnblock {
			usage, op, done = usageUnblock, b.admin.Unblock, textUnblocked
		}
		target, err := ParseUserID(cmd.Args)
		if err != nil {
			b.reply(ctx, chat, usage)
			return
		}
		rec, err := op(ctx, caller, target)
		switch {
		case err == nil:
			b.reply(ctx, chat, fmt.Sprintf(done, rec.Label(), rec.ID))
		case errors.Is(err, service.ErrNotFound):
			b.reply(ctx, chat, fmt.Sprintf(textUnknownUser, target))
		case errors.Is(err, service.ErrMalformedInput):
			b.reply(ctx, chat, textCannotBlockSelf)
		default:
			b.reply(ctx, chat, b.describe(err, usage))
		}

	case CmdUsers:
		users, err := b.admin.ListUsers(ctx, caller)
		if err != nil {
			b.reply(ctx, chat, b.describe(err, ""))
			return
		}
		for _, chunk := range formatUsers(users) {
			b.reply(ctx, chat, chunk)
		}

	case CmdSetQuestion:
		c, err := b.admin.SetSecurityQuestion(ctx, caller, cmd.Args)
		if err != nil {
			b.reply(ctx, chat, b.describe(err, usageSetQuestion))
			return
		}
		b.reply(ctx, chat, fmt.Sprintf(textQuestionSet, c.Question))
	}
}

func (b *Bot) onButton(ctx context.Context, ev ButtonPress) {
	if ev.From.ID != b.cfg.AdminID {
		b.answer(ctx, ev.Callback.ID, answerUnauthorized)
		return
	}
	if ev.Err != nil {
		b.answer(ctx, ev.Callback.ID, answerUnknown)
		return
	}

	switch ev.Action {
	case service.ActionReply:
		if err := b.relay.PromptReply(ctx, ev.Target); err != nil {
			b.answer(ctx, ev.Callback.ID, b.describe(err, ""))
			return
		}
		b.answer(ctx, ev.Callback.ID, answerReplying)
	case service.ActionBlock:
		rec, err := b.admin.Block(ctx, ev.From.ID, ev.Target)
		if err != nil {
			b.answer(ctx, ev.Callback.ID, b.describe(err, ""))
			return
		}
		b.answer(ctx, ev.Callback.ID, answerBlocked)
		b.reply(ctx, ev.Chat.ID, fmt.Sprintf(textBlocked, rec.Label(), rec.ID))
	}
}

// describe renders err for the administrator.
func (b *Bot) describe(err error, usage string) string {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return textAdminOnly
	case errors.Is(err, service.ErrMalformedInput) && usage != "":
		return usage
	case errors.Is(err, service.ErrBlockedRejected):
		return "User is blocked."
	case errors.Is(err, service.ErrNotFound):
		return "Unknown user."
	}
	b.log.Error("admin operation failed", zap.Error(err))
	return textInternalError
}

func (b *Bot) reply(ctx context.Context, chat int64, text string) {
	if err := b.relay.Notify(ctx, chat, text); err != nil {
		b.log.Warn("failed to send reply", zap.Int64("chat_id", chat), zap.Error(err))
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.relay.AnswerCallback(ctx, callbackID, text); err != nil {
		b.log.Warn("failed to answer callback", zap.String("callback_id", callbackID), zap.Error(err))
	}
}
