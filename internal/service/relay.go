package service

import (
	"context"
	"fmt"

	"github.com/atinyakov/GophRelay/internal/models"
	"go.uber.org/zap"
)

// CorrelationStore maps forwarded messages, as seen in the admin's chats, to
// the user they came from. Implementations must tolerate concurrent Put and Get.
type CorrelationStore interface {
	// Put records that ref was forwarded on behalf of user.
	Put(ctx context.Context, ref models.MessageRef, user models.UserID) error
	// Get returns the user recorded for ref. ok is false if there is none.
	Get(ctx context.Context, ref models.MessageRef) (user models.UserID, ok bool, err error)
}

// Callback data prefixes of the buttons attached to forwarded messages.
const (
	ActionReply = "reply"
	ActionBlock = "block"
)

// ActionData builds the callback data of a forwarded-message button.
func ActionData(action string, user models.UserID) string {
	return fmt.Sprintf("%s:%d", action, user)
}

// RelayService moves messages between users and the administrator.
type RelayService struct {
	store        *UserStore
	transport    Transport
	correlations CorrelationStore
	settings     Settings
	log          *zap.Logger
}

// NewRelayService constructs a RelayService.
func NewRelayService(store *UserStore, transport Transport, correlations CorrelationStore, settings Settings, log *zap.Logger) *RelayService {
	return &RelayService{
		store:        store,
		transport:    transport,
		correlations: correlations,
		settings:     settings,
		log:          log,
	}
}

// ForwardToAdmin sends msg from user to the administrator with Reply and
// Block buttons and records the correlation of the admin copy. When a backup
// channel is set up the message is mirrored there on a best-effort basis.
// Only the admin forward decides the result.
func (s *RelayService) ForwardToAdmin(ctx context.Context, user models.UserID, msg models.Content) (models.MessageRef, error) {
	rec, ok := s.store.Get(user)
	if !ok {
		return models.MessageRef{}, fmt.Errorf("forward from %d: %w", user, ErrNotFound)
	}
	if rec.Blocked {
		return models.MessageRef{}, fmt.Errorf("forward from %d: %w", user, ErrBlockedRejected)
	}

	content := labelled(rec, msg)
	out := models.Outbound{
		ChatID:  s.settings.AdminID,
		Content: content,
		Buttons: []models.Button{
			{Text: "Reply", Data: ActionData(ActionReply, user)},
			{Text: "Block", Data: ActionData(ActionBlock, user)},
		},
	}
	id, err := send(ctx, s.transport, s.settings.SendTimeout, out)
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("forward from %d: %w", user, err)
	}
	ref := models.MessageRef{ChatID: s.settings.AdminID, MessageID: id}
	if err := s.correlations.Put(ctx, ref, user); err != nil {
		// The admin has the message already; replies to it will surface as NoCorrelation.
		s.log.Error("failed to record correlation",
			zap.Int64("user_id", user),
			zap.Int64("message_id", id),
			zap.Error(err),
		)
	}

	s.mirror(ctx, user, content)
	return ref, nil
}

func (s *RelayService) mirror(ctx context.Context, user models.UserID, content models.Content) {
	backup, ok := s.store.BackupChannel()
	if !ok {
		return
	}
	id, err := send(ctx, s.transport, s.settings.SendTimeout, models.Outbound{ChatID: backup, Content: content})
	if err != nil {
		s.log.Warn("failed to mirror message to backup channel",
			zap.Int64("backup_channel", backup),
			zap.Int64("user_id", user),
			zap.Error(err),
		)
		return
	}
	if err := s.correlations.Put(ctx, models.MessageRef{ChatID: backup, MessageID: id}, user); err != nil {
		s.log.Warn("failed to record backup correlation", zap.Int64("user_id", user), zap.Error(err))
	}
}

// DeliverToUser sends msg to user. Blocked users are never reached. Failures
// are returned to the caller and not retried.
func (s *RelayService) DeliverToUser(ctx context.Context, user models.UserID, msg models.Content) error {
	rec, ok := s.store.Get(user)
	if !ok {
		return fmt.Errorf("deliver to %d: %w", user, ErrNotFound)
	}
	if rec.Blocked {
		return fmt.Errorf("deliver to %d: %w", user, ErrBlockedRejected)
	}
	if _, err := send(ctx, s.transport, s.settings.SendTimeout, models.Outbound{ChatID: user, Content: msg}); err != nil {
		return fmt.Errorf("deliver to %d: %w", user, err)
	}
	return nil
}

// PromptReply asks the administrator's client to open a reply addressed to
// user and correlates the prompt, so replying to it reaches that user.
func (s *RelayService) PromptReply(ctx context.Context, user models.UserID) error {
	rec, ok := s.store.Get(user)
	if !ok {
		return fmt.Errorf("prompt reply to %d: %w", user, ErrNotFound)
	}
	if rec.Blocked {
		return fmt.Errorf("prompt reply to %d: %w", user, ErrBlockedRejected)
	}
	out := models.Outbound{
		ChatID:      s.settings.AdminID,
		Content:     models.Text(fmt.Sprintf("Replying to %s (ID: %d). Type your message:", rec.Label(), rec.ID)),
		ForceReply:  true,
		Placeholder: "Reply to " + rec.Label(),
	}
	id, err := send(ctx, s.transport, s.settings.SendTimeout, out)
	if err != nil {
		return fmt.Errorf("prompt reply to %d: %w", user, err)
	}
	return s.correlations.Put(ctx, models.MessageRef{ChatID: s.settings.AdminID, MessageID: id}, user)
}

// Notify sends a plain text message to chat. It is used for acknowledgements
// and error reports and bypasses the blocked check.
func (s *RelayService) Notify(ctx context.Context, chat int64, text string) error {
	_, err := send(ctx, s.transport, s.settings.SendTimeout, models.Outbound{ChatID: chat, Content: models.Text(text)})
	return err
}

// AnswerCallback acknowledges a button press.
func (s *RelayService) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if s.settings.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.SendTimeout)
		defer cancel()
	}
	return s.transport.AnswerCallback(ctx, callbackID, text)
}

func labelled(rec models.UserRecord, msg models.Content) models.Content {
	if msg.IsText() {
		return models.Text(fmt.Sprintf("Message from %s (ID: %d):\n\n%s", rec.Label(), rec.ID, msg.Text))
	}
	out := msg
	out.Caption = fmt.Sprintf("Media from %s (ID: %d)", rec.Label(), rec.ID)
	if msg.Caption != "" {
		out.Caption += "\n\n" + msg.Caption
	}
	return out
}
