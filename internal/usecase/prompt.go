package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"neuroexpert-api/internal/catalog"
	"neuroexpert-api/internal/domain"
)

type scopedAnswerResponse struct {
	InScope bool
	Answer  string
}

type scopedAnswerWire struct {
	InScope *bool  `json:"in_scope"`
	Answer  string `json:"answer"`
}

// errNotScopedAnswer marks a reply that is plain text rather than a JSON object.
var errNotScopedAnswer = errors.New("usecase: reply is not a scoped answer")

// TokenCounter measures prompt text for the history budget.
type TokenCounter interface {
	Count(text string) int
}

func buildPromptMessages(c catalog.Catalog, history []domain.ChatMessage, message string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+3)
	messages = append(messages,
		domain.ChatMessage{Role: domain.RoleSystem, Content: buildPolicyPrompt(c.Company.Name)},
		domain.ChatMessage{Role: domain.RoleSystem, Content: buildCatalogPrompt(c)},
	)
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: message})
	return messages
}

func buildPolicyPrompt(company string) string {
	return strings.Join([]string{
		"Роль:",
		fmt.Sprintf("Вы AI-консультант %s, первая точка контакта клиента с агентством digital-трансформации.", company),
		"",
		"Задача:",
		"Определите, относится ли вопрос к digital-трансформации, услугам агентства или заказу проекта.",
		"Если относится, ответьте по существу, опираясь только на каталог услуг и историю диалога.",
		"Если не относится, верните out of scope.",
		"",
		"Правила:",
		behaviorRules(),
		"",
		"Формат ответа:",
		outputContract(),
	}, "\n")
}

func buildCatalogPrompt(c catalog.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Компания: %s\n", c.Company.Name)
	if c.Company.CompletedProjects > 0 {
		fmt.Fprintf(&b, "Завершенных проектов: %d\n", c.Company.CompletedProjects)
	}
	if c.Company.Phone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", c.Company.Phone)
	}
	if c.Company.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", c.Company.Email)
	}
	b.WriteString("\nУслуги:\n")
	b.WriteString(c.ServicesText())
	return b.String()
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Отвечайте только на текущий вопрос клиента, на языке клиента.",
		"2) Будьте дружелюбны и конкретны, не более 5 предложений.",
		"3) Называйте цены и сроки только из каталога услуг.",
		"4) Если клиент готов к заказу, предложите оставить телефон или Telegram.",
		"5) Не выдумывайте услуги, кейсы и скидки, которых нет в каталоге.",
	}, "\n")
}

func outputContract() string {
	return "Верните только JSON с ключами in_scope (boolean) и answer (string). " +
		"Вне темы: in_scope=false и answer=\"\". " +
		"По теме: in_scope=true и итоговый ответ клиенту в answer."
}

// selectHistory walks turns from newest to oldest. The newest minTurns
// complete turns are always kept; older ones are added while the running
// token total stays within maxTokens. The result is chronological.
func selectHistory(turns []domain.Turn, counter TokenCounter, maxTokens, minTurns int) []domain.ChatMessage {
	var (
		picked []domain.Turn
		total  int
	)
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if !t.Complete() {
			continue
		}
		tokens := counter.Count(t.UserMessage) + counter.Count(t.AIResponse)
		if len(picked) >= minTurns && total+tokens > maxTokens {
			break
		}
		picked = append(picked, t)
		total += tokens
	}

	messages := make([]domain.ChatMessage, 0, 2*len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		messages = append(messages,
			domain.ChatMessage{Role: domain.RoleUser, Content: strings.TrimSpace(picked[i].UserMessage)},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: strings.TrimSpace(picked[i].AIResponse)},
		)
	}
	return messages
}

// parseScopedAnswer decodes a {in_scope, answer} object. Extra keys are
// ignored. Replies that are not a JSON object return errNotScopedAnswer.
func parseScopedAnswer(raw string) (scopedAnswerResponse, error) {
	body := stripCodeFence(raw)
	if !strings.HasPrefix(body, "{") {
		return scopedAnswerResponse{}, errNotScopedAnswer
	}
	var wire scopedAnswerWire
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&wire); err != nil {
		return scopedAnswerResponse{}, fmt.Errorf("usecase: decode scoped answer: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return scopedAnswerResponse{}, errors.New("usecase: decode scoped answer: multiple JSON values")
		}
		return scopedAnswerResponse{}, fmt.Errorf("usecase: decode scoped answer trailing data: %w", err)
	}
	if wire.InScope == nil {
		return scopedAnswerResponse{}, errors.New("usecase: scoped answer missing in_scope")
	}
	return scopedAnswerResponse{InScope: *wire.InScope, Answer: strings.TrimSpace(wire.Answer)}, nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
