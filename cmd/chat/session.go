package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"neuroexpert-api/widget"
)

const helpText = `commands:
  /quick <audit|ai-bot|website|support>  send a quick action
  /model <name>                          switch model
  /contact name|contact|service|message  submit the contact form
  /reset                                 start a new session
  /quit                                  exit`

var errQuit = errors.New("quit")

// session is one terminal conversation: a widget chat plus its contact form.
type session struct {
	chat    *widget.Chat
	contact *widget.ContactForm
	out     io.Writer
}

func newSession(cfg config, out io.Writer, opts ...widget.Option) (*session, error) {
	base := []widget.Option{
		widget.WithLanguage(cfg.Language),
		widget.WithTimeout(cfg.timeout()),
		widget.WithOnRetry(func(attempt int, delay time.Duration) {
			slog.Warn("chat request failed, retrying", "attempt", attempt, "delay", delay)
		}),
	}
	if cfg.Model != "" {
		base = append(base, widget.WithModel(cfg.Model))
	}
	base = append(base, opts...)

	chat, err := widget.NewChat(cfg.ChatEndpoint, base...)
	if err != nil {
		return nil, err
	}
	contact, err := widget.NewContactForm(cfg.BackendURL, base...)
	if err != nil {
		return nil, err
	}
	return &session{chat: chat, contact: contact, out: out}, nil
}

// run reads lines from in until EOF, /quit or ctx is done.
func (s *session) run(ctx context.Context, in io.Reader) error {
	s.greet()
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		if err := s.handleLine(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *session) greet() {
	msgs := s.chat.Messages()
	if len(msgs) > 0 {
		fmt.Fprintf(s.out, "bot: %s\n", msgs[0].Content)
	}
	buttons := make([]string, 0, 4)
	for _, b := range widget.QuickButtons() {
		buttons = append(buttons, fmt.Sprintf("%s (/quick %s)", b.Label, b.Action))
	}
	fmt.Fprintln(s.out, strings.Join(buttons, "  "))
}

// handleLine runs one command or sends line as a chat message. Only errQuit
// and I/O failures end the loop; request failures are printed.
func (s *session) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		s.printReply(s.chat.Send(ctx, line))
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(s.out, helpText)
	case "/reset":
		s.chat.Reset()
		fmt.Fprintf(s.out, "session %s\n", s.chat.SessionID())
		s.greet()
	case "/model":
		if arg == "" {
			fmt.Fprintf(s.out, "model %s\n", s.chat.Model())
			return nil
		}
		s.chat.SetModel(arg)
		fmt.Fprintf(s.out, "model %s\n", s.chat.Model())
	case "/quick":
		s.printReply(s.chat.QuickAction(ctx, widget.QuickAction(arg)))
	case "/contact":
		s.submitContact(ctx, arg)
	default:
		fmt.Fprintf(s.out, "unknown command %s\n%s\n", cmd, helpText)
	}
	return nil
}

func (s *session) printReply(reply widget.Reply, err error) {
	switch {
	case errors.Is(err, widget.ErrUnknownAction):
		fmt.Fprintf(s.out, "unknown quick action\n%s\n", helpText)
		return
	case errors.Is(err, widget.ErrUnavailable) && reply.Message.Content == "":
		fmt.Fprintf(s.out, "chat is unavailable, use /contact or /reset\n")
		return
	case err != nil && reply.Message.Content == "":
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if reply.Notice != "" {
		fmt.Fprintf(s.out, "* %s\n", reply.Notice)
	}
	fmt.Fprintf(s.out, "bot: %s\n", reply.Message.Content)
	if err != nil {
		slog.Debug("chat reply degraded", "err", err, "retries", reply.Retries)
	}
}

// submitContact fills the form from "name|contact|service|message".
func (s *session) submitContact(ctx context.Context, arg string) {
	parts := strings.SplitN(arg, "|", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	s.contact.Set(widget.ContactFields{Name: parts[0], Contact: parts[1], Service: parts[2], Message: parts[3]})

	notice, err := s.contact.Submit(ctx)
	if err != nil {
		slog.Debug("contact submit failed", "err", err)
	}
	fmt.Fprintf(s.out, "[%s] %s\n", notice.Kind, notice.Text)
}
