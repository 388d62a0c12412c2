// Package models defines the core data structures shared by the relay:
// user records, the security challenge, message content and transport
// neutral inbound/outbound envelopes.
package models

import (
	"strings"
	"time"
)

// UserID identifies a user of the messaging transport.
type UserID = int64

// AuthState is the authentication state of a user.
type AuthState string

const (
	// AuthUnchallenged is the state of a user that has not been asked the question yet.
	AuthUnchallenged AuthState = "unchallenged"
	// AuthPendingAnswer is the state of a user that was asked and has not answered correctly.
	AuthPendingAnswer AuthState = "pending_answer"
	// AuthAuthenticated is the state of a user that answered correctly.
	AuthAuthenticated AuthState = "authenticated"
	// AuthBlocked is reported by EffectiveState for blocked users. It is never stored.
	AuthBlocked AuthState = "blocked"
)

// Valid reports whether s is one of the storable states.
func (s AuthState) Valid() bool {
	switch s {
	case AuthUnchallenged, AuthPendingAnswer, AuthAuthenticated:
		return true
	}
	return false
}

// UserRecord holds authentication and authorization data of a single user.
type UserRecord struct {
	// ID is the transport user identifier.
	ID UserID `json:"id"`
	// DisplayName is a human-readable label, best-effort.
	DisplayName string `json:"display_name,omitempty"`
	// Username is the optional public handle.
	Username string `json:"username,omitempty"`
	// AuthState is the stored challenge state.
	AuthState AuthState `json:"auth_state"`
	// Blocked gates every relay operation when set.
	Blocked bool `json:"blocked"`
	// FailedAttempts counts wrong answers since the last challenge was issued.
	FailedAttempts int `json:"failed_attempts"`
	// CreatedAt is the time of first contact.
	CreatedAt time.Time `json:"created_at"`
	// LastActiveAt is the time of the latest contact.
	LastActiveAt time.Time `json:"last_active_at"`
}

// EffectiveState returns AuthBlocked for blocked users and the stored state otherwise.
func (u UserRecord) EffectiveState() AuthState {
	if u.Blocked {
		return AuthBlocked
	}
	return u.AuthState
}

// Label returns the display name, falling back to the username or "user".
func (u UserRecord) Label() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "user"
	}
}

// SecurityChallenge is the question/answer pair gating authentication.
type SecurityChallenge struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Matches reports whether text is the answer, ignoring case and surrounding space.
func (c SecurityChallenge) Matches(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(c.Answer))
}

// ContentKind is the type of a message payload.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindPhoto     ContentKind = "photo"
	KindDocument  ContentKind = "document"
	KindVideo     ContentKind = "video"
	KindVoice     ContentKind = "voice"
	KindAudio     ContentKind = "audio"
	KindAnimation ContentKind = "animation"
	KindSticker   ContentKind = "sticker"
)

// Content is a relayable message payload. Media is referenced by the
// transport file identifier and never downloaded.
type Content struct {
	Kind    ContentKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	FileID  string      `json:"file_id,omitempty"`
	Caption string      `json:"caption,omitempty"`
}

// Text builds a text payload.
func Text(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// IsText reports whether the payload is plain text.
func (c Content) IsText() bool {
	return c.Kind == KindText || c.Kind == ""
}

// Body returns the text of a text message or the caption of a media message.
func (c Content) Body() string {
	if c.IsText() {
		return c.Text
	}
	return c.Caption
}

// Chat types reported by the transport.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// Chat is the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// IsGroup reports whether the chat is a group or supergroup.
func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup || c.Type == ChatSupergroup
}

// Sender describes the author of an inbound event.
type Sender struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username,omitempty"`
}

// Callback is a press of an inline button.
type Callback struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	MessageID int64  `json:"message_id"`
}

// Inbound is a transport event reduced to what the relay needs.
type Inbound struct {
	UpdateID  int64   `json:"update_id"`
	MessageID int64   `json:"message_id"`
	Chat      Chat    `json:"chat"`
	From      Sender  `json:"from"`
	Content   Content `json:"content"`
	// ReplyTo is the id of the message this one replies to, in the same chat.
	ReplyTo *int64 `json:"reply_to,omitempty"`
	// ReplyToBot marks replies to a message the bot itself sent.
	ReplyToBot bool `json:"reply_to_bot,omitempty"`
	// Callback is set for button presses; Content is empty then.
	Callback *Callback `json:"callback,omitempty"`
}

// MessageRef addresses a message sent by the bot.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Button is an inline button with opaque callback data.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Outbound is a message the relay asks the transport to send.
type Outbound struct {
	ChatID  int64
	Content Content
	// Buttons are rendered as a single row of inline buttons.
	Buttons []Button
	// ForceReply asks the client to open a reply to this message.
	ForceReply bool
	// Placeholder is shown in the input field when ForceReply is set.
	Placeholder string
}

// Snapshot is everything a user repository persists.
type Snapshot struct {
	Users []UserRecord
	// Challenge is nil when none was saved yet.
	Challenge *SecurityChallenge
	// BackupChannel is zero when no backup channel was set up.
	BackupChannel int64
}
