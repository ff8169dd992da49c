package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"neuroexpert-api/internal/locale"
)

type NoticeKind string

const (
	NoticeSuccess    NoticeKind = "success"
	NoticeError      NoticeKind = "error"
	NoticeValidation NoticeKind = "validation"
)

// Notice is the message shown above the form after a submit.
type Notice struct {
	Kind NoticeKind
	Text string
}

// ContactFields mirrors the inputs of the contact form.
type ContactFields struct {
	Name    string `json:"name" validate:"required"`
	Contact string `json:"contact" validate:"required"`
	Service string `json:"service" validate:"required"`
	Message string `json:"message"`
}

func (f ContactFields) trimmed() ContactFields {
	return ContactFields{
		Name:    strings.TrimSpace(f.Name),
		Contact: strings.TrimSpace(f.Contact),
		Service: strings.TrimSpace(f.Service),
		Message: strings.TrimSpace(f.Message),
	}
}

type contactReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ContactForm submits the contact form to the site API.
type ContactForm struct {
	endpoint string
	opts     options
	validate *validator.Validate

	mu         sync.Mutex
	fields     ContactFields
	submitting bool
}

// NewContactForm posts to {baseURL}/api/contact.
func NewContactForm(baseURL string, opts ...Option) (*ContactForm, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("widget: backend url must not be empty")
	}
	return &ContactForm{
		endpoint: base + "/api/contact",
		opts:     buildOptions(opts),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (f *ContactForm) Set(fields ContactFields) {
	f.mu.Lock()
	f.fields = fields
	f.mu.Unlock()
}

func (f *ContactForm) Fields() ContactFields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

func (f *ContactForm) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// Submit validates the fields and posts them. Missing required fields return
// a validation notice and ErrValidation without any request. Fields are
// cleared only on success.
func (f *ContactForm) Submit(ctx context.Context) (Notice, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return Notice{}, ErrBusy
	}
	fields := f.fields.trimmed()
	if err := f.validate.Struct(fields); err != nil {
		f.mu.Unlock()
		return Notice{Kind: NoticeValidation, Text: f.opts.text(locale.ContactRequired)},
			fmt.Errorf("%w: %w", ErrValidation, err)
	}
	f.submitting = true
	f.mu.Unlock()

	reply, err := f.post(ctx, fields)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if err != nil {
		slog.Error("contact submit failed", slog.String("endpoint", f.endpoint), slog.Any("error", err))
		return Notice{Kind: NoticeError, Text: f.opts.text(locale.ContactFailed)}, err
	}
	f.fields = ContactFields{}
	text := strings.TrimSpace(reply.Message)
	if text == "" {
		text = f.opts.text(locale.ContactThanks)
	}
	return Notice{Kind: NoticeSuccess, Text: text}, nil
}

func (f *ContactForm) post(ctx context.Context, fields ContactFields) (contactReply, error) {
	raw, err := postJSON(ctx, f.opts.httpClient, f.endpoint, fields)
	if err != nil {
		return contactReply{}, err
	}
	var reply contactReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return contactReply{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !reply.Success {
		return contactReply{}, errors.New("widget: contact rejected")
	}
	return reply, nil
}
