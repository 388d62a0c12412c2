// Package main runs the relay against an interactive console instead of
// Telegram. Every outbound message is printed and inbound events are typed
// in as commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/atinyakov/GophRelay/internal/bot"
	"github.com/atinyakov/GophRelay/internal/config"
	"github.com/atinyakov/GophRelay/internal/logger"
	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/repository"
	"github.com/atinyakov/GophRelay/internal/service"
	"go.uber.org/zap"
)

const helpText = `Available commands:
  user <id> <text>              message from user <id> in a private chat
  admin <text>                  message from the admin in a private chat
  reply <message_id> <text>     admin reply to a message the bot sent
  group <chat_id> <id> <text>   message from <id> in group <chat_id>
  press <callback_data>         admin presses an inline button
  help, exit`

// printer is a Transport that writes every outbound message to out.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	next int64
}

func (p *printer) Send(_ context.Context, msg models.Outbound) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++

	body := msg.Content.Body()
	if !msg.Content.IsText() {
		body = fmt.Sprintf("[%s %s] %s", msg.Content.Kind, msg.Content.FileID, body)
	}
	fmt.Fprintf(p.out, "→ chat %d #%d: %s\n", msg.ChatID, p.next, body)
	for _, b := range msg.Buttons {
		fmt.Fprintf(p.out, "    [%s] press %s\n", b.Text, b.Data)
	}
	if msg.ForceReply {
		fmt.Fprintf(p.out, "    (reply %d <text>)\n", p.next)
	}
	return p.next, nil
}

func (p *printer) AnswerCallback(_ context.Context, _ string, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "→ callback answer: %s\n", text)
	return nil
}

// console turns typed lines into inbound events.
type console struct {
	handle  func(context.Context, models.Inbound)
	wait    func()
	adminID models.UserID
	out     io.Writer
	update  int64
}

// exec runs one line. It returns false when the session should end.
func (c *console) exec(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
	case "help":
		fmt.Fprintln(c.out, helpText)
	case "exit":
		fmt.Fprintln(c.out, "Bye")
		return false
	case "user":
		id, text, err := splitID(rest)
		if err != nil {
			fmt.Fprintln(c.out, "Usage: user <id> <text>")
			break
		}
		c.send(ctx, c.private(id, text))
	case "admin":
		c.send(ctx, c.private(c.adminID, rest))
	case "reply":
		msgID, text, err := splitID(rest)
		if err != nil {
			fmt.Fprintln(c.out, "Usage: reply <message_id> <text>")
			break
		}
		in := c.private(c.adminID, text)
		in.ReplyTo = &msgID
		in.ReplyToBot = true
		c.send(ctx, in)
	case "group":
		chatID, tail, err := splitID(rest)
		if err != nil {
			fmt.Fprintln(c.out, "Usage: group <chat_id> <id> <text>")
			break
		}
		from, text, err := splitID(tail)
		if err != nil {
			fmt.Fprintln(c.out, "Usage: group <chat_id> <id> <text>")
			break
		}
		in := c.private(from, text)
		in.Chat = models.Chat{ID: chatID, Type: models.ChatSupergroup}
		c.send(ctx, in)
	case "press":
		if rest == "" {
			fmt.Fprintln(c.out, "Usage: press <callback_data>")
			break
		}
		c.update++
		c.send(ctx, models.Inbound{
			UpdateID: c.update,
			Chat:     models.Chat{ID: c.adminID, Type: models.ChatPrivate},
			From:     models.Sender{ID: c.adminID, DisplayName: "admin"},
			Callback: &models.Callback{ID: strconv.FormatInt(c.update, 10), Data: strings.TrimSpace(rest)},
		})
	default:
		fmt.Fprintln(c.out, "Unknown command. Type 'help' for a list of commands.")
	}
	return true
}

func (c *console) private(from models.UserID, text string) models.Inbound {
	c.update++
	name := "user " + strconv.FormatInt(from, 10)
	if from == c.adminID {
		name = "admin"
	}
	return models.Inbound{
		UpdateID:  c.update,
		MessageID: c.update,
		Chat:      models.Chat{ID: from, Type: models.ChatPrivate},
		From:      models.Sender{ID: from, DisplayName: name},
		Content:   models.Text(text),
	}
}

func (c *console) send(ctx context.Context, in models.Inbound) {
	c.handle(ctx, in)
	c.wait()
}

func splitID(s string) (int64, string, error) {
	head, tail, _ := strings.Cut(strings.TrimSpace(s), " ")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return id, strings.TrimSpace(tail), nil
}

// repl runs the interactive shell loop until exit or end of input.
func repl(ctx context.Context, c *console, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "relay> ")
		if !scanner.Scan() {
			return
		}
		if !c.exec(ctx, scanner.Text()) {
			return
		}
	}
}

func main() {
	options := config.Parse()
	if options.AdminID == 0 {
		options.AdminID = 1
	}

	lg := logger.New()
	defer func() { _ = lg.Log.Sync() }()
	if err := lg.Init("warn"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	users := service.NewUserStore(repository.NewFileUserRepository(options.StorePath), models.SecurityChallenge{
		Question: options.SecurityQuestion,
		Answer:   options.SecurityAnswer,
	})
	if err := users.Load(ctx); err != nil {
		lg.Log.Fatal("failed to load users", zap.Error(err))
	}

	settings := service.Settings{
		AdminID:           options.AdminID,
		SendTimeout:       options.SendTimeout,
		MaxAnswerAttempts: options.MaxAnswerAttempts,
		BroadcastWorkers:  options.BroadcastWorkers,
		BroadcastRate:     options.BroadcastRate,
	}
	correlations := repository.NewMemoryCorrelations(options.CorrelationMax, options.CorrelationTTL)
	relay := service.NewRelayService(users, &printer{out: os.Stdout}, correlations, settings, lg.Log)
	relayBot := bot.New(
		service.NewAuthService(users, settings),
		relay,
		service.NewCorrelator(correlations),
		service.NewAdminService(users, relay, settings, lg.Log),
		bot.Config{AdminID: settings.AdminID},
		lg.Log,
	)
	dispatcher := bot.NewDispatcher(relayBot, options.Shards, 0, lg.Log)

	fmt.Printf("Relay console, admin id %d, store %s\n", options.AdminID, options.StorePath)
	fmt.Println(helpText)
	repl(ctx, &console{
		handle:  dispatcher.Handle,
		wait:    relayBot.Wait,
		adminID: settings.AdminID,
		out:     os.Stdout,
	}, os.Stdin)
}
