package telegram

import "encoding/json"

// response is the envelope of every Bot API reply.
type response struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// Update is an incoming update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat is a private chat, group, supergroup or channel.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// File is the common part of every media attachment.
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	File
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Message is a message in a chat.
type Message struct {
	MessageID      int64       `json:"message_id"`
	From           *User       `json:"from,omitempty"`
	Chat           Chat        `json:"chat"`
	Date           int64       `json:"date"`
	Text           string      `json:"text,omitempty"`
	Caption        string      `json:"caption,omitempty"`
	ReplyToMessage *Message    `json:"reply_to_message,omitempty"`
	Photo          []PhotoSize `json:"photo,omitempty"`
	Document       *File       `json:"document,omitempty"`
	Video          *File       `json:"video,omitempty"`
	Voice          *File       `json:"voice,omitempty"`
	Audio          *File       `json:"audio,omitempty"`
	Animation      *File       `json:"animation,omitempty"`
	Sticker        *File       `json:"sticker,omitempty"`
}

// CallbackQuery is a press of an inline keyboard button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// InlineKeyboardButton is a button of an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

// InlineKeyboardMarkup is an inline keyboard attached to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// ForceReply makes the client show a reply interface to the user.
type ForceReply struct {
	ForceReply            bool   `json:"force_reply"`
	InputFieldPlaceholder string `json:"input_field_placeholder,omitempty"`
	Selective             bool   `json:"selective,omitempty"`
}

// SendMessageParams are the parameters of sendMessage.
type SendMessageParams struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup any    `json:"reply_markup,omitempty"`
}

// SendMediaParams are the parameters of sendPhoto, sendDocument and friends.
// Field holds the name of the media field ("photo", "document", ...).
type SendMediaParams struct {
	ChatID      int64
	Field       string
	FileID      string
	Caption     string
	ReplyMarkup any
}

func (p SendMediaParams) body() map[string]any {
	m := map[string]any{
		"chat_id": p.ChatID,
		p.Field:   p.FileID,
	}
	if p.Caption != "" {
		m["caption"] = p.Caption
	}
	if p.ReplyMarkup != nil {
		m["reply_markup"] = p.ReplyMarkup
	}
	return m
}

// WebhookConfig are the parameters of setWebhook.
type WebhookConfig struct {
	URL         string
	SecretToken string
	// Certificate is the PEM public key of a self-signed webhook certificate.
	Certificate        []byte
	AllowedUpdates     []string
	DropPendingUpdates bool
}
