package domain

import "time"

const ContactStatusNew = "new"

// ContactSubmission is a lead captured by the site contact form.
type ContactSubmission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Contact   string    `json:"contact" validate:"required"`
	Service   string    `json:"service" validate:"required"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
