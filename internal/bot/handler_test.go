package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/repository"
	"github.com/atinyakov/GophRelay/internal/service"
	"github.com/atinyakov/GophRelay/internal/transport/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const admin models.UserID = 1

var blockedByUser = &telegram.APIError{Method: "sendMessage", Code: 403, Description: "Forbidden: bot was blocked by the user"}

type sentMessage struct {
	models.Outbound
	ID int64
}

type recordingTransport struct {
	mu       sync.Mutex
	next     int64
	sent     []sentMessage
	answers  map[string]string
	failures map[int64]error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{next: 1000, answers: make(map[string]string), failures: make(map[int64]error)}
}

func (t *recordingTransport) Send(_ context.Context, msg models.Outbound) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures[msg.ChatID]; err != nil {
		return 0, err
	}
	t.next++
	t.sent = append(t.sent, sentMessage{Outbound: msg, ID: t.next})
	return t.next, nil
}

func (t *recordingTransport) AnswerCallback(_ context.Context, id, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers[id] = text
	return nil
}

// to returns the messages sent to chat, oldest first.
func (t *recordingTransport) to(chat int64) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentMessage
	for _, m := range t.sent {
		if m.ChatID == chat {
			out = append(out, m)
		}
	}
	return out
}

func (t *recordingTransport) texts(chat int64) []string {
	var out []string
	for _, m := range t.to(chat) {
		out = append(out, m.Content.Body())
	}
	return out
}

func (t *recordingTransport) lastText(chat int64) string {
	msgs := t.to(chat)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content.Body()
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

type harness struct {
	bot       *Bot
	transport *recordingTransport
	store     *service.UserStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	settings := service.Settings{AdminID: admin}
	repo := repository.NewFileUserRepository(filepath.Join(t.TempDir(), "relay.json"))
	store := service.NewUserStore(repo, models.SecurityChallenge{Question: "What's your secret phrase?", Answer: "your_secret_answer_here"})
	require.NoError(t, store.Load(context.Background()))

	tr := newRecordingTransport()
	correlations := repository.NewMemoryCorrelations(100, 0)
	relay := service.NewRelayService(store, tr, correlations, settings, zap.NewNop())
	b := New(
		service.NewAuthService(store, settings),
		relay,
		service.NewCorrelator(correlations),
		service.NewAdminService(store, relay, settings, zap.NewNop()),
		Config{AdminID: admin, BotUsername: "relay_bot"},
		zap.NewNop(),
	)
	return &harness{bot: b, transport: tr, store: store}
}

var updateSeq int64

func private(from models.UserID, name, text string) models.Inbound {
	updateSeq++
	return models.Inbound{
		UpdateID:  updateSeq,
		MessageID: updateSeq,
		Chat:      models.Chat{ID: from, Type: models.ChatPrivate},
		From:      models.Sender{ID: from, DisplayName: name},
		Content:   models.Text(text),
	}
}

// replyTo makes in a reply to a message the bot sent.
func replyTo(in models.Inbound, messageID int64) models.Inbound {
	in.ReplyTo = &messageID
	in.ReplyToBot = true
	return in
}

func (h *harness) send(in models.Inbound) {
	h.bot.Handle(context.Background(), in)
	h.bot.Wait()
}

func (h *harness) login(t *testing.T, id models.UserID, name string) {
	t.Helper()
	h.send(private(id, name, "hi"))
	h.send(private(id, name, "your_secret_answer_here"))
	require.Equal(t, textAuthOK, h.transport.lastText(id))
}

// forwarded returns the admin-chat copy of the latest forward.
func (h *harness) forwarded(t *testing.T) sentMessage {
	t.Helper()
	for _, m := range slicesReverse(h.transport.to(admin)) {
		if len(m.Buttons) > 0 {
			return m
		}
	}
	t.Fatal("no forwarded message")
	return sentMessage{}
}

func slicesReverse(in []sentMessage) []sentMessage {
	out := make([]sentMessage, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}

func TestBot_ChallengeFlow(t *testing.T) {
	h := newHarness(t)

	h.send(private(7, "Ann", "hello"))
	assert.Equal(t, "Welcome to the Relay Bot. Please authenticate yourself.\n\nWhat's your secret phrase?", h.transport.lastText(7))
	assert.Empty(t, h.transport.to(admin), "nothing may be relayed before authentication")

	h.send(private(7, "Ann", "wrong"))
	assert.Equal(t, "Authentication failed. Please try again.\n\nWhat's your secret phrase?", h.transport.lastText(7))

	h.send(private(7, "Ann", "  YOUR_secret_answer_here "))
	assert.Equal(t, "Authentication successful! You can now use the bot.", h.transport.lastText(7))
	assert.Empty(t, h.transport.to(admin), "the answer itself is not relayed")

	h.send(private(7, "Ann", "I need help"))
	assert.Equal(t, "Message relayed to the admin!", h.transport.lastText(7))
	fwd := h.forwarded(t)
	assert.Equal(t, "Message from Ann (ID: 7):\n\nI need help", fwd.Content.Text)
}

func TestBot_AdminReplyRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.login(t, 8, "Bob")

	h.send(private(7, "Ann", "from ann"))
	annFwd := h.forwarded(t)
	h.send(private(8, "Bob", "from bob"))
	bobFwd := h.forwarded(t)

	h.send(replyTo(private(admin, "Admin", "hi ann"), annFwd.ID))
	h.send(replyTo(private(admin, "Admin", "hi bob"), bobFwd.ID))

	assert.Equal(t, "hi ann", h.transport.lastText(7))
	assert.Equal(t, "hi bob", h.transport.lastText(8))
}

func TestBot_AdminMessageWithoutAnchor(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	h.send(private(admin, "Admin", "who gets this?"))
	assert.Equal(t, textNoCorrelation, h.transport.lastText(admin))

	h.send(replyTo(private(admin, "Admin", "stale"), 424242))
	assert.Equal(t, textNoCorrelation, h.transport.lastText(admin))
	assert.NotContains(t, h.transport.texts(7), "who gets this?")
}

func TestBot_ReplyButtonPromptsAndCorrelates(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.send(private(7, "Ann", "question"))

	press := private(admin, "Admin", "")
	press.Callback = &models.Callback{ID: "cb1", Data: "reply:7"}
	h.send(press)
	assert.Equal(t, answerReplying, h.transport.answers["cb1"])

	prompt := h.transport.to(admin)[len(h.transport.to(admin))-1]
	require.True(t, prompt.ForceReply)

	h.send(replyTo(private(admin, "Admin", "answer via prompt"), prompt.ID))
	assert.Equal(t, "answer via prompt", h.transport.lastText(7))
}

func TestBot_BlockButton(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.send(private(7, "Ann", "spam"))
	fwd := h.forwarded(t)

	press := private(admin, "Admin", "")
	press.Callback = &models.Callback{ID: "cb2", Data: "block:7"}
	h.send(press)
	assert.Equal(t, answerBlocked, h.transport.answers["cb2"])
	assert.Equal(t, "User Ann (ID: 7) has been blocked.", h.transport.lastText(admin))

	h.transport.reset()
	h.send(private(7, "Ann", "more spam"))
	assert.Empty(t, h.transport.to(admin))
	assert.Empty(t, h.transport.to(7))

	h.send(replyTo(private(admin, "Admin", "bye"), fwd.ID))
	assert.Equal(t, fmt.Sprintf(textReplyBlocked, 7), h.transport.lastText(admin))
	assert.Empty(t, h.transport.to(7))
}

func TestBot_ButtonFromNonAdmin(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	press := private(7, "Ann", "")
	press.Callback = &models.Callback{ID: "cb3", Data: "block:7"}
	h.send(press)
	assert.Equal(t, answerUnauthorized, h.transport.answers["cb3"])
	assert.Equal(t, models.AuthAuthenticated, mustGet(t, h, 7).EffectiveState())

	press = private(admin, "Admin", "")
	press.Callback = &models.Callback{ID: "cb4", Data: "nonsense"}
	h.send(press)
	assert.Equal(t, answerUnknown, h.transport.answers["cb4"])
}

func mustGet(t *testing.T, h *harness, id models.UserID) models.UserRecord {
	t.Helper()
	rec, ok := h.store.Get(id)
	require.True(t, ok)
	return rec
}

func TestBot_BlockUnblockCommands(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	tests := []struct {
		text string
		want string
	}{
		{"/block", usageBlock},
		{"/block abc", usageBlock},
		{"/block 7 8", usageBlock},
		{"/block 99", fmt.Sprintf(textUnknownUser, 99)},
		{"/block 1", textCannotBlockSelf},
		{"/block 7", "User Ann (ID: 7) has been blocked."},
		{"/unblock 7", "User Ann (ID: 7) has been unblocked."},
		{"/unblock", usageUnblock},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h.send(private(admin, "Admin", tt.text))
			assert.Equal(t, tt.want, h.transport.lastText(admin))
		})
	}

	// Unblocked users keep their authentication.
	h.send(private(7, "Ann", "back again"))
	assert.Equal(t, textMessageRelayed, h.transport.lastText(7))
}

func TestBot_AdminCommandsRejectedForUsers(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	for _, text := range []string{"/block 8", "/unblock 8", "/users", "/broadcast hi", "/setquestion a|b"} {
		h.send(private(7, "Ann", text))
		assert.Equal(t, textAdminOnly, h.transport.lastText(7), text)
	}
	assert.Empty(t, h.transport.to(admin))
}

func TestBot_SetQuestionScenario(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	h.send(private(admin, "Admin", "/setquestion"))
	assert.Equal(t, usageSetQuestion, h.transport.lastText(admin))

	h.send(private(admin, "Admin", "/setquestion What city?|Paris"))
	assert.Equal(t, "Security question updated.\nQuestion: What city?", h.transport.lastText(admin))

	h.send(private(8, "Bob", "hello"))
	assert.Equal(t, textWelcome+"What city?", h.transport.lastText(8))
	h.send(private(8, "Bob", "paris"))
	assert.Equal(t, textAuthOK, h.transport.lastText(8))

	// Already authenticated users are unaffected.
	h.send(private(7, "Ann", "still relayed"))
	assert.Equal(t, textMessageRelayed, h.transport.lastText(7))
}

func TestBot_Broadcast(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.login(t, 8, "Bob")
	h.login(t, 9, "Cid")
	h.send(private(10, "Dee", "pending"))
	h.transport.failures[9] = blockedByUser

	h.send(private(admin, "Admin", "/broadcast"))
	assert.Equal(t, usageBroadcast, h.transport.lastText(admin))

	h.send(private(admin, "Admin", "/broadcast Maintenance at 10pm"))

	assert.Equal(t, "Maintenance at 10pm", h.transport.lastText(7))
	assert.Equal(t, "Maintenance at 10pm", h.transport.lastText(8))
	assert.NotEqual(t, "Maintenance at 10pm", h.transport.lastText(10))

	report := h.transport.lastText(admin)
	assert.Contains(t, report, "finished: 2 delivered, 1 failed.")
	assert.Contains(t, report, "Failed: 9")
	assert.Contains(t, report, "1 of them blocked the bot or deleted the account.")
}

func TestFormatBroadcast(t *testing.T) {
	tests := []struct {
		name string
		res  service.BroadcastResult
		want string
	}{
		{
			name: "all delivered",
			res:  service.BroadcastResult{JobID: "j", Succeeded: 3},
			want: "Broadcast j finished: 3 delivered, 0 failed.",
		},
		{
			name: "transient failure",
			res:  service.BroadcastResult{JobID: "j", Succeeded: 1, Failed: 1, FailedUsers: []models.UserID{8}, Err: errors.New("timeout")},
			want: "Broadcast j finished: 1 delivered, 1 failed.\nFailed: 8",
		},
		{
			name: "unreachable users counted",
			res: service.BroadcastResult{
				JobID: "j", Failed: 3, FailedUsers: []models.UserID{7, 8, 9},
				Err: multierr.Combine(
					fmt.Errorf("%w: chat 7: %w", service.ErrDeliveryFailed, blockedByUser),
					errors.New("timeout"),
					&telegram.APIError{Method: "sendMessage", Code: 400, Description: "Bad Request: chat not found"},
				),
			},
			want: "Broadcast j finished: 0 delivered, 3 failed.\nFailed: 7, 8, 9\n2 of them blocked the bot or deleted the account.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatBroadcast(tt.res))
		})
	}
}

func TestBot_Users(t *testing.T) {
	h := newHarness(t)
	h.send(private(admin, "Admin", "/users"))
	assert.Equal(t, textNoUsers, h.transport.lastText(admin))

	h.login(t, 7, "Ann")
	h.send(private(8, "Bob", "hi"))
	h.send(private(admin, "Admin", "/block 8"))

	h.send(private(admin, "Admin", "/users"))
	list := h.transport.lastText(admin)
	assert.True(t, strings.HasPrefix(list, "Users (2):\n7 Ann [authenticated]"), list)
	assert.Contains(t, list, "8 Bob [blocked]")
}

func TestFormatUsersChunks(t *testing.T) {
	var users []models.UserRecord
	for i := 1; i <= 300; i++ {
		users = append(users, models.UserRecord{ID: models.UserID(i), DisplayName: strings.Repeat("x", 30), AuthState: models.AuthAuthenticated})
	}
	chunks := formatUsers(users)
	require.Greater(t, len(chunks), 1)
	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxListChunk)
		total += strings.Count(c, "[authenticated]")
	}
	assert.Equal(t, 300, total)
}

func TestBot_SetupGroup(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	group := private(admin, "Admin", "/setupgroup")
	group.Chat = models.Chat{ID: -100500, Type: models.ChatSupergroup}

	h.send(private(admin, "Admin", "/setupgroup"))
	assert.Equal(t, textSetupNotGroup, h.transport.lastText(admin))

	notAdmin := group
	notAdmin.From = models.Sender{ID: 7, DisplayName: "Ann"}
	h.send(notAdmin)
	assert.Equal(t, textSetupNotAdmin, h.transport.lastText(-100500))

	h.send(group)
	assert.Equal(t, fmt.Sprintf(textSetupDone, -100500), h.transport.lastText(-100500))

	h.send(private(7, "Ann", "mirrored"))
	assert.Equal(t, "Message from Ann (ID: 7):\n\nmirrored", h.transport.lastText(-100500))

	// The admin can answer from the backup group.
	mirror := h.transport.to(-100500)
	fromGroup := replyTo(private(admin, "Admin", "answered from group"), mirror[len(mirror)-1].ID)
	fromGroup.Chat = group.Chat
	h.send(fromGroup)
	assert.Equal(t, "answered from group", h.transport.lastText(7))

	// Other group chatter is ignored.
	chatter := private(7, "Ann", "hello group")
	chatter.Chat = group.Chat
	before := len(h.transport.to(admin))
	h.send(chatter)
	assert.Len(t, h.transport.to(admin), before)

	// So are admin replies to other members.
	toMember := replyTo(private(admin, "Admin", "thanks Ann"), chatter.MessageID)
	toMember.ReplyToBot = false
	toMember.Chat = group.Chat
	groupBefore, userBefore := len(h.transport.to(-100500)), len(h.transport.to(7))
	h.send(toMember)
	assert.Len(t, h.transport.to(-100500), groupBefore, "no hint posted in the group")
	assert.Len(t, h.transport.to(admin), before)
	assert.Len(t, h.transport.to(7), userBefore)
}

func TestBot_StartHelpStatus(t *testing.T) {
	h := newHarness(t)

	h.send(private(7, "Ann", "/status"))
	assert.Equal(t, textStatusNotAuthed, h.transport.lastText(7))

	h.send(private(7, "Ann", "/start"))
	assert.Equal(t, textWelcome+"What's your secret phrase?", h.transport.lastText(7))

	h.send(private(7, "Ann", "your_secret_answer_here"))
	h.send(private(7, "Ann", "/start@relay_bot"))
	assert.Equal(t, textAlreadyAuthed, h.transport.lastText(7))

	h.send(private(7, "Ann", "/status"))
	assert.Equal(t, textStatusAuthed, h.transport.lastText(7))

	h.send(private(7, "Ann", "/help"))
	assert.Equal(t, textHelp, h.transport.lastText(7))

	h.send(private(7, "Ann", "/nope"))
	assert.Equal(t, textUnknownCommand, h.transport.lastText(7))

	h.send(private(admin, "Admin", "/start"))
	assert.Equal(t, textAdminWelcome, h.transport.lastText(admin))
	h.send(private(admin, "Admin", "/status"))
	assert.Equal(t, textStatusAdmin, h.transport.lastText(admin))
	h.send(private(admin, "Admin", "/help"))
	assert.Equal(t, textHelp+textAdminHelp, h.transport.lastText(admin))
}

func TestBot_BlockedUserCommandsIgnored(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.send(private(admin, "Admin", "/block 7"))
	h.transport.reset()

	for _, text := range []string{"/help", "/nope", "/status", "/broadcast hi", "/start"} {
		h.send(private(7, "Ann", text))
	}
	assert.Empty(t, h.transport.to(7))
	assert.Empty(t, h.transport.to(admin))
}

func TestBot_HelpRefreshesActivity(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	before := mustGet(t, h, 7).LastActiveAt

	h.send(private(7, "Ann Lee", "/help"))
	assert.Equal(t, textHelp, h.transport.lastText(7))

	rec := mustGet(t, h, 7)
	assert.Equal(t, "Ann Lee", rec.DisplayName)
	assert.False(t, rec.LastActiveAt.Before(before))

	// First contact through a command creates the record.
	h.send(private(8, "Bob", "/help"))
	assert.Equal(t, models.AuthUnchallenged, mustGet(t, h, 8).AuthState)
}

func TestBot_MediaRelay(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")

	in := private(7, "Ann", "")
	in.Content = models.Content{Kind: models.KindVoice, FileID: "voice-1"}
	h.send(in)
	assert.Equal(t, textMediaRelayed, h.transport.lastText(7))

	fwd := h.forwarded(t)
	assert.Equal(t, models.KindVoice, fwd.Content.Kind)
	assert.Equal(t, "voice-1", fwd.Content.FileID)
	assert.Equal(t, "Media from Ann (ID: 7)", fwd.Content.Caption)
}

func TestBot_ForwardFailureReported(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.transport.failures[admin] = errors.New("network down")

	h.send(private(7, "Ann", "are you there?"))
	assert.Equal(t, textRelayFailed, h.transport.lastText(7))
}

func TestBot_ReplyDeliveryFailureReported(t *testing.T) {
	h := newHarness(t)
	h.login(t, 7, "Ann")
	h.send(private(7, "Ann", "q"))
	fwd := h.forwarded(t)
	h.transport.failures[7] = errors.New("network down")

	h.send(replyTo(private(admin, "Admin", "a"), fwd.ID))
	assert.True(t, strings.HasPrefix(h.transport.lastText(admin), "Failed to deliver the reply to user 7:"), h.transport.lastText(admin))

	h.transport.failures[7] = blockedByUser
	h.send(replyTo(private(admin, "Admin", "b"), fwd.ID))
	assert.Equal(t, fmt.Sprintf(textReplyUnreachable, 7), h.transport.lastText(admin))
}
