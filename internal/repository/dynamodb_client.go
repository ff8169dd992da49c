package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/samber/lo"

	"neuroexpert-api/internal/domain"
)

const (
	pkPrefixSession = "SESSION#"
	pkPrefixContact = "CONTACT#"
	skPrefixMsg     = "MSG#"
	skMeta          = "META#"
	skContact       = "CONTACT#"
	ttlDuration     = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// HistoryStore loads and appends the turns of a chat session.
type HistoryStore interface {
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	SaveTurn(ctx context.Context, turn domain.Turn) error
}

// ContactStore persists contact form submissions.
type ContactStore interface {
	SaveContact(ctx context.Context, c domain.ContactSubmission) error
}

// Client wraps a single DynamoDB table holding chat turns, session metadata
// and contact submissions.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return pkPrefixSession + sessionID
}

func contactPK(id string) string {
	return pkPrefixContact + id
}

// msgSK orders turns by creation time; the turn id breaks ties.
func msgSK(ts time.Time, turnID string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + turnID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// LoadHistory returns up to limit most recent turns of a session in
// chronological order.
func (c *Client) LoadHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadHistory unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	slices.Reverse(turns)
	return turns, nil
}

// GetSessionMeta returns the aggregate record of a session. A session that
// was never written yields a zero-turn meta.
func (c *Client) GetSessionMeta(ctx context.Context, sessionID string) (domain.SessionMeta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: GetSessionMeta get item: %w", err)
	}
	meta := domain.SessionMeta{SessionID: sessionID}
	if out == nil || len(out.Item) == 0 {
		return meta, nil
	}

	if meta.Turns, err = intAttr(out.Item, "turns"); err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: GetSessionMeta decode turns: %w", err)
	}
	if last, _ := strAttr(out.Item, "lastActivity"); last != "" {
		if ts, perr := time.Parse(time.RFC3339, last); perr == nil {
			meta.LastActivity = ts
		}
	}
	if ttl, terr := intAttr(out.Item, "ttl"); terr == nil {
		meta.TTL = int64(ttl)
	}
	return meta, nil
}

// SaveTurn writes the turn and bumps the session metadata in one transaction.
func (c *Client) SaveTurn(ctx context.Context, turn domain.Turn) error {
	if turn.SessionID == "" || turn.ID == "" {
		return errors.New("repository: SaveTurn: session id and turn id are required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = c.now().UTC()
	}
	if turn.TTL == 0 {
		turn.TTL = c.ttlValue()
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: sessionPK(turn.SessionID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("ADD turns :one SET sessionId = :sid, lastActivity = :now, #ttl = :ttl"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one": &types.AttributeValueMemberN{Value: "1"},
						":sid": &types.AttributeValueMemberS{Value: turn.SessionID},
						":now": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveContact stores a contact submission. Submissions are write-once.
func (c *Client) SaveContact(ctx context.Context, sub domain.ContactSubmission) error {
	if sub.ID == "" {
		return errors.New("repository: SaveContact: id is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = c.now().UTC()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                contactItem(sub),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveContact: %w", err)
	}
	return nil
}

func turnItem(t domain.Turn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: sessionPK(t.SessionID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(t.CreatedAt, t.ID)},
		"turnId":         &types.AttributeValueMemberS{Value: t.ID},
		"sessionId":      &types.AttributeValueMemberS{Value: t.SessionID},
		"userMessage":    &types.AttributeValueMemberS{Value: t.UserMessage},
		"aiResponse":     &types.AttributeValueMemberS{Value: t.AIResponse},
		"model":          &types.AttributeValueMemberS{Value: t.Model},
		"requestedModel": &types.AttributeValueMemberS{Value: t.RequestedModel},
		"createdAt":      &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(t.TTL, 10)},
	}
	if t.UserData != nil {
		userData := lo.OmitByValues(map[string]string{
			"name":    t.UserData.Name,
			"contact": t.UserData.Contact,
		}, []string{""})
		if len(userData) > 0 {
			item["userData"] = &types.AttributeValueMemberM{Value: lo.MapValues(userData, func(v, _ string) types.AttributeValue {
				return &types.AttributeValueMemberS{Value: v}
			})}
		}
	}
	return item
}

func contactItem(c domain.ContactSubmission) map[string]types.AttributeValue {
	status := c.Status
	if status == "" {
		status = domain.ContactStatusNew
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: contactPK(c.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skContact},
		"id":        &types.AttributeValueMemberS{Value: c.ID},
		"name":      &types.AttributeValueMemberS{Value: c.Name},
		"contact":   &types.AttributeValueMemberS{Value: c.Contact},
		"service":   &types.AttributeValueMemberS{Value: c.Service},
		"message":   &types.AttributeValueMemberS{Value: c.Message},
		"status":    &types.AttributeValueMemberS{Value: status},
		"createdAt": &types.AttributeValueMemberS{Value: c.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Turn{}, err
	}
	userMessage, err := strAttr(item, "userMessage")
	if err != nil {
		return domain.Turn{}, err
	}
	aiResponse, _ := strAttr(item, "aiResponse") // allow empty
	id, _ := strAttr(item, "turnId")
	model, _ := strAttr(item, "model")
	requested, _ := strAttr(item, "requestedModel")

	turn := domain.Turn{
		ID:             id,
		SessionID:      sessionID,
		UserMessage:    userMessage,
		AIResponse:     aiResponse,
		Model:          model,
		RequestedModel: requested,
	}
	if created, _ := strAttr(item, "createdAt"); created != "" {
		if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			turn.CreatedAt = ts
		}
	}
	if ttl, terr := intAttr(item, "ttl"); terr == nil {
		turn.TTL = int64(ttl)
	}
	if m, ok := item["userData"].(*types.AttributeValueMemberM); ok {
		name, _ := strAttr(m.Value, "name")
		contact, _ := strAttr(m.Value, "contact")
		turn.UserData = &domain.UserData{Name: name, Contact: contact}
	}
	return turn, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
