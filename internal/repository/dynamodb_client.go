package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"whistle-agent/internal/domain"
)

const (
	skPrefixMsg      = "MSG#"
	skPrefixEvidence = "EVIDENCE#"
	skMeta           = "META#"
	pkReportSeq      = "REPORT#SEQ"
	ttlDuration      = 30 * 24 * time.Hour // 30-day TTL

	// DynamoDB caps a transaction at 100 items; one slot is kept for meta.
	maxTxMessages = 99
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client persists conversation state, report ids and evidence records in a
// single DynamoDB table.
type Client struct {
	api          dynamodbAPI
	tableName    string
	systemPrompt string
}

// New creates a new repository Client. systemPrompt seeds conversations that
// have no stored state yet.
func New(api dynamodbAPI, tableName, systemPrompt string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, errors.New("repository: system prompt must not be empty")
	}
	return &Client{api: api, tableName: tableName, systemPrompt: systemPrompt}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for the message at position seq. Zero padding
// keeps lexicographic order equal to insertion order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, seq)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetOrCreate loads the conversation or seeds a new one with the system
// prompt. A seeded conversation is not written until Save.
func (c *Client) GetOrCreate(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("repository: conversation id is required")
	}
	meta, found, err := c.getMeta(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return domain.NewConversationState(conversationID, c.systemPrompt), nil
	}

	msgs, err := c.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 || msgs[0].Role != domain.RoleSystem {
		return nil, fmt.Errorf("repository: conversation %q has no system message", conversationID)
	}

	state := &domain.ConversationState{
		ConversationID: conversationID,
		Messages:       make([]domain.ChatMessage, 0, len(msgs)),
		TurnCount:      meta.Turns,
		Judged:         meta.Judged,
		Stored:         len(msgs),
	}
	if ts, err := time.Parse(time.RFC3339, meta.LastActivity); err == nil {
		state.LastActivity = ts
	}
	for _, m := range msgs {
		state.Messages = append(state.Messages, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return state, nil
}

// Save writes messages appended since the last load or save together with
// the updated metadata.
func (c *Client) Save(ctx context.Context, state *domain.ConversationState) error {
	if state == nil {
		return errors.New("repository: Save: state must not be nil")
	}
	if state.Stored > len(state.Messages) {
		return fmt.Errorf("repository: Save: %d stored messages but only %d in state", state.Stored, len(state.Messages))
	}

	pending := make([]domain.Message, 0, len(state.Messages)-state.Stored)
	for i := state.Stored; i < len(state.Messages); i++ {
		m := state.Messages[i]
		pending = append(pending, NewMessage(state.ConversationID, i, m.Role, m.Content))
	}
	meta := NewConversationMeta(state.ConversationID, state.TurnCount, len(state.Messages), state.Judged)

	for len(pending) > maxTxMessages {
		if err := c.SaveTurn(ctx, pending[:maxTxMessages], nil); err != nil {
			return fmt.Errorf("repository: Save: %w", err)
		}
		state.Stored += maxTxMessages
		pending = pending[maxTxMessages:]
	}
	if err := c.SaveTurn(ctx, pending, &meta); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	state.Stored = len(state.Messages)
	return nil
}

// GetHistory queries all MSG# items for a conversation ordered chronologically.
func (c *Client) GetHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var (
		msgs     []domain.Message
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (c *Client) getMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationMeta{}, false, fmt.Errorf("repository: get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationMeta{}, false, nil
	}
	meta, err := itemToMeta(out.Item)
	if err != nil {
		return domain.ConversationMeta{}, false, fmt.Errorf("repository: decode meta: %w", err)
	}
	return meta, true, nil
}

// SaveTurn writes messages and, when meta is non-nil, the conversation
// metadata in one transaction.
func (c *Client) SaveTurn(ctx context.Context, msgs []domain.Message, meta *domain.ConversationMeta) error {
	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	for _, msg := range msgs {
		if msg.PK == "" || msg.SK == "" {
			return errors.New("repository: SaveTurn: message PK and SK are required")
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(msg),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	if meta != nil {
		if meta.PK == "" || meta.SK == "" {
			return errors.New("repository: SaveTurn: meta PK and SK are required")
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      metaItem(*meta),
			},
		})
	}
	if len(items) == 0 {
		return nil
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// CreateReport atomically increments the report sequence and returns the new
// value as the conversation id.
func (c *Client) CreateReport(ctx context.Context) (string, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkReportSeq},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", fmt.Errorf("repository: CreateReport: %w", err)
	}
	if out == nil {
		return "", errors.New("repository: CreateReport: empty response")
	}
	seq, err := intAttr(out.Attributes, "seq")
	if err != nil {
		return "", fmt.Errorf("repository: CreateReport: %w", err)
	}
	return strconv.Itoa(seq), nil
}

// SaveEvidence persists an evidence record under its conversation.
func (c *Client) SaveEvidence(ctx context.Context, conversationID string, ev domain.Evidence) error {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(ev.ID) == "" {
		return errors.New("repository: SaveEvidence: conversation id and evidence id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK":             &types.AttributeValueMemberS{Value: skPrefixEvidence + ev.ID},
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
			"filename":       &types.AttributeValueMemberS{Value: ev.Filename},
			"extractedText":  &types.AttributeValueMemberS{Value: ev.ExtractedText},
			"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveEvidence: %w", err)
	}
	return nil
}

// NewMessage constructs a Message with PK/SK/TTL set from conversationID and
// its position in the transcript.
func NewMessage(conversationID string, seq int, role, content string) domain.Message {
	return domain.Message{
		PK:             convPK(conversationID),
		SK:             msgSK(seq),
		ConversationID: conversationID,
		Seq:            seq,
		Role:           role,
		Content:        content,
		TTL:            ttlValue(),
	}
}

// NewConversationMeta constructs a ConversationMeta record.
func NewConversationMeta(conversationID string, turns, messages int, judged bool) domain.ConversationMeta {
	return domain.ConversationMeta{
		PK:             convPK(conversationID),
		SK:             skMeta,
		ConversationID: conversationID,
		LastActivity:   time.Now().UTC().Format(time.RFC3339),
		Turns:          turns,
		Messages:       messages,
		Judged:         judged,
		TTL:            ttlValue(),
	}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	seq, _ := intAttr(item, "seq")

	return domain.Message{
		PK:      pk,
		SK:      sk,
		Seq:     seq,
		Role:    role,
		Content: content,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.ConversationMeta, error) {
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	messages, _ := intAttr(item, "messages")
	lastActivity, _ := strAttr(item, "lastActivity")
	judged := false
	if v, ok := item["judged"].(*types.AttributeValueMemberBOOL); ok {
		judged = v.Value
	}
	return domain.ConversationMeta{
		Turns:        turns,
		Messages:     messages,
		Judged:       judged,
		LastActivity: lastActivity,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: msg.PK},
		"SK":             &types.AttributeValueMemberS{Value: msg.SK},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"seq":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", msg.Seq)},
		"role":           &types.AttributeValueMemberS{Value: msg.Role},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", msg.TTL)},
	}
}

func metaItem(meta domain.ConversationMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: meta.PK},
		"SK":             &types.AttributeValueMemberS{Value: meta.SK},
		"conversationId": &types.AttributeValueMemberS{Value: meta.ConversationID},
		"lastActivity":   &types.AttributeValueMemberS{Value: meta.LastActivity},
		"turns":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.Turns)},
		"messages":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.Messages)},
		"judged":         &types.AttributeValueMemberBOOL{Value: meta.Judged},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TTL)},
	}
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
