package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"neuroexpert-api/internal/domain"
	"neuroexpert-api/internal/locale"
)

type ContactStore interface {
	SaveContact(ctx context.Context, c domain.ContactSubmission) error
}

type ContactService struct {
	store    ContactStore
	notifier Notifier
	locale   Localizer
	validate *validator.Validate
	now      func() time.Time
}

type ContactInput struct {
	Name     string
	Contact  string
	Service  string
	Message  string
	Language string
}

type ContactOutput struct {
	ID      string
	Success bool
	Message string
}

// NewContactService builds the contact flow. notifier and loc may be nil.
func NewContactService(store ContactStore, notifier Notifier, loc Localizer) (*ContactService, error) {
	if store == nil {
		return nil, errors.New("usecase: contact store must not be nil")
	}
	if loc == nil {
		loc = locale.MustNew("")
	}
	return &ContactService{
		store:    store,
		notifier: notifier,
		locale:   loc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}, nil
}

func (s *ContactService) Submit(ctx context.Context, in ContactInput) (ContactOutput, error) {
	sub := domain.ContactSubmission{
		Name:    strings.TrimSpace(in.Name),
		Contact: strings.TrimSpace(in.Contact),
		Service: strings.TrimSpace(in.Service),
		Message: strings.TrimSpace(in.Message),
	}
	if err := s.validate.Struct(sub); err != nil {
		return ContactOutput{}, newError(ErrorInvalidInput, "missing_fields: "+strings.Join(missingFields(err), ","), err)
	}

	sub.ID = newUUID()
	sub.Status = domain.ContactStatusNew
	sub.CreatedAt = s.now().UTC()
	if err := s.store.SaveContact(ctx, sub); err != nil {
		return ContactOutput{}, newError(ErrorInternal, "contact_write_error", err)
	}

	if s.notifier != nil && s.notifier.Enabled() {
		if err := s.notifier.Notify(ctx, contactMessage(sub)); err != nil {
			slog.Warn("telegram notification failed", "contact_id", sub.ID, "err", err)
		}
	}
	slog.Info("contact form stored", "contact_id", sub.ID, "service", sub.Service)

	return ContactOutput{
		ID:      sub.ID,
		Success: true,
		Message: s.locale.Text(in.Language, locale.ContactThanks),
	}, nil
}

func missingFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	return lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return strings.ToLower(fe.Field())
	})
}
