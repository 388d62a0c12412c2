package telegram

import (
	"context"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/atinyakov/GophRelay/internal/models"
)

// Sender adapts a Client to the relay's outbound transport contract.
type Sender struct {
	client *Client
}

// NewSender wraps client.
func NewSender(client *Client) *Sender {
	return &Sender{client: client}
}

var mediaFields = map[models.ContentKind]string{
	models.KindPhoto:     "photo",
	models.KindDocument:  "document",
	models.KindVideo:     "video",
	models.KindVoice:     "voice",
	models.KindAudio:     "audio",
	models.KindAnimation: "animation",
	models.KindSticker:   "sticker",
}

// Send delivers msg and returns the message id Telegram assigned. Text over
// the Bot API limit is sent as several messages; the markup goes on the last
// one, whose id is returned. A caption over its limit is sent ahead of the
// media as text. Nothing is cut.
func (s *Sender) Send(ctx context.Context, msg models.Outbound) (int64, error) {
	markup := replyMarkup(msg)

	if msg.Content.IsText() {
		return s.sendText(ctx, msg.ChatID, msg.Content.Text, markup)
	}

	field, ok := mediaFields[msg.Content.Kind]
	if !ok {
		return 0, fmt.Errorf("telegram: unsupported content kind %q", msg.Content.Kind)
	}
	p := SendMediaParams{
		ChatID:      msg.ChatID,
		Field:       field,
		FileID:      msg.Content.FileID,
		Caption:     msg.Content.Caption,
		ReplyMarkup: markup,
	}
	// Stickers carry no caption.
	if p.Caption != "" && (msg.Content.Kind == models.KindSticker || utf16Len(p.Caption) > maxCaptionLen) {
		if _, err := s.sendText(ctx, msg.ChatID, p.Caption, nil); err != nil {
			return 0, err
		}
		p.Caption = ""
	}
	m, err := s.client.SendMedia(ctx, p)
	if err != nil {
		return 0, err
	}
	return m.MessageID, nil
}

func (s *Sender) sendText(ctx context.Context, chat int64, text string, markup any) (int64, error) {
	parts := splitText(text, maxTextLen)
	var id int64
	for i, part := range parts {
		p := SendMessageParams{ChatID: chat, Text: part}
		if i == len(parts)-1 {
			p.ReplyMarkup = markup
		}
		m, err := s.client.SendMessage(ctx, p)
		if err != nil {
			if i > 0 {
				return 0, fmt.Errorf("telegram: part %d of %d: %w", i+1, len(parts), err)
			}
			return 0, err
		}
		id = m.MessageID
	}
	return id, nil
}

// AnswerCallback acknowledges a button press.
func (s *Sender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return s.client.AnswerCallbackQuery(ctx, callbackID, text)
}

func replyMarkup(msg models.Outbound) any {
	switch {
	case msg.ForceReply:
		return ForceReply{ForceReply: true, InputFieldPlaceholder: clip(msg.Placeholder, maxPlaceholderLen)}
	case len(msg.Buttons) > 0:
		row := make([]InlineKeyboardButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			row = append(row, InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		return InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
	}
	return nil
}

// Bot API limits, in UTF-16 code units.
const (
	maxTextLen        = 4096
	maxCaptionLen     = 1024
	maxPlaceholderLen = 64
)

// utf16Len returns the length of s as the Bot API counts it.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// splitText cuts s into parts of at most limit UTF-16 units, preferring a
// line break or a space in the second half of a part. Joining the parts
// gives s back.
func splitText(s string, limit int) []string {
	var parts []string
	for utf16Len(s) > limit {
		cut, units, lastBreak := 0, 0, 0
		for cut < len(s) {
			r, size := utf8.DecodeRuneInString(s[cut:])
			if units+runeUnits(r) > limit {
				break
			}
			units += runeUnits(r)
			cut += size
			if r == '\n' || r == ' ' {
				lastBreak = cut
			}
		}
		if lastBreak > cut/2 {
			cut = lastBreak
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	return append(parts, s)
}

// clip shortens s to limit UTF-16 units. It is only used for texts the relay
// writes itself.
func clip(s string, limit int) string {
	if utf16Len(s) <= limit {
		return s
	}
	return splitText(s, limit-1)[0] + "…"
}
