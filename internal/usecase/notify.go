package usecase

import (
	"fmt"
	"html"
	"strings"

	"neuroexpert-api/internal/domain"
)

const notSpecified = "Не указано"

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return html.EscapeString(s)
}

// contactMessage renders a contact form submission for the operators chat.
func contactMessage(c domain.ContactSubmission) string {
	return fmt.Sprintf(
		"<b>🎯 Новая заявка NeuroExpert!</b>\n\n"+
			"<b>Имя:</b> %s\n"+
			"<b>Контакт:</b> %s\n"+
			"<b>Услуга:</b> %s\n"+
			"<b>Сообщение:</b> %s\n",
		orNotSpecified(c.Name),
		orNotSpecified(c.Contact),
		orNotSpecified(c.Service),
		orNotSpecified(c.Message),
	)
}

// leadMessage renders a chat turn that carried visitor contact details.
func leadMessage(t domain.Turn) string {
	var name, contact string
	if t.UserData != nil {
		name, contact = t.UserData.Name, t.UserData.Contact
	}
	return fmt.Sprintf(
		"<b>💬 Лид из AI-чата!</b>\n\n"+
			"<b>Модель:</b> %s (запрошена: %s)\n"+
			"<b>Имя:</b> %s\n"+
			"<b>Контакт:</b> %s\n"+
			"<b>Сообщение:</b> %s\n",
		orNotSpecified(t.Model),
		orNotSpecified(t.RequestedModel),
		orNotSpecified(name),
		orNotSpecified(contact),
		orNotSpecified(t.UserMessage),
	)
}
