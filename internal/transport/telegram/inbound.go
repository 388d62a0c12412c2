package telegram

import (
	"strings"

	"github.com/atinyakov/GophRelay/internal/models"
)

// ToInbound reduces u to the relay's inbound event. ok is false for updates
// the relay does not handle: bot authors, service messages, unsupported
// content.
func ToInbound(u Update) (models.Inbound, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		in := models.Inbound{
			UpdateID: u.UpdateID,
			From:     sender(q.From),
			Callback: &models.Callback{ID: q.ID, Data: q.Data},
		}
		if q.Message != nil {
			in.Chat = models.Chat{ID: q.Message.Chat.ID, Type: q.Message.Chat.Type}
			in.MessageID = q.Message.MessageID
			in.Callback.MessageID = q.Message.MessageID
		}
		return in, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot {
			return models.Inbound{}, false
		}
		content, ok := messageContent(m)
		if !ok {
			return models.Inbound{}, false
		}
		in := models.Inbound{
			UpdateID:  u.UpdateID,
			MessageID: m.MessageID,
			Chat:      models.Chat{ID: m.Chat.ID, Type: m.Chat.Type},
			From:      sender(*m.From),
			Content:   content,
		}
		if m.ReplyToMessage != nil {
			id := m.ReplyToMessage.MessageID
			in.ReplyTo = &id
			in.ReplyToBot = m.ReplyToMessage.From != nil && m.ReplyToMessage.From.IsBot
		}
		return in, true
	}
	return models.Inbound{}, false
}

func sender(u User) models.Sender {
	return models.Sender{
		ID:          u.ID,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:    u.Username,
	}
}

func messageContent(m *Message) (models.Content, bool) {
	media := func(kind models.ContentKind, f *File) (models.Content, bool) {
		return models.Content{Kind: kind, FileID: f.FileID, Caption: m.Caption}, true
	}
	switch {
	case m.Text != "":
		return models.Text(m.Text), true
	case len(m.Photo) > 0:
		// Sizes are ordered from smallest to largest.
		return media(models.KindPhoto, &m.Photo[len(m.Photo)-1].File)
	case m.Animation != nil:
		// Animations also carry a Document.
		return media(models.KindAnimation, m.Animation)
	case m.Document != nil:
		return media(models.KindDocument, m.Document)
	case m.Video != nil:
		return media(models.KindVideo, m.Video)
	case m.Voice != nil:
		return media(models.KindVoice, m.Voice)
	case m.Audio != nil:
		return media(models.KindAudio, m.Audio)
	case m.Sticker != nil:
		return media(models.KindSticker, m.Sticker)
	}
	return models.Content{}, false
}
