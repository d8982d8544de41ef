package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"readwith/internal/domain"
)

const (
	feedbackPKPrefix = "FEEDBACK#"
	feedbackSK       = "RECORD"
	// StatusIndex is the GSI keyed by status (hash) and timestamp (range).
	StatusIndex = "status-timestamp-index"
)

// FeedbackClient stores submitted feedback records. Records are only ever
// appended; the status attribute is the one field updated afterwards.
type FeedbackClient struct {
	api       dynamodbAPI
	tableName string
}

func NewFeedbackClient(api dynamodbAPI, tableName string) (*FeedbackClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &FeedbackClient{api: api, tableName: tableName}, nil
}

func feedbackPK(id string) string {
	return feedbackPKPrefix + id
}

func feedbackKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: feedbackPK(id)},
		"SK": &types.AttributeValueMemberS{Value: feedbackSK},
	}
}

// AppendFeedback writes a new record. An existing id is never overwritten.
func (c *FeedbackClient) AppendFeedback(ctx context.Context, rec domain.FeedbackRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("repository: AppendFeedback: record id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                feedbackItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendFeedback: %w", err)
	}
	return nil
}

// ListFeedback returns records newest first. An empty status lists all records.
func (c *FeedbackClient) ListFeedback(ctx context.Context, status domain.Status) ([]domain.FeedbackRecord, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if status == "" {
		items, err = c.scanAll(ctx)
	} else {
		items, err = c.queryByStatus(ctx, status)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.FeedbackRecord, 0, len(items))
	for _, item := range items {
		rec, err := itemToFeedback(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListFeedback unmarshal: %w", err)
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (c *FeedbackClient) queryByStatus(ctx context.Context, status domain.Status) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(StatusIndex),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListFeedback query: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *FeedbackClient) scanAll(ctx context.Context) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(c.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: feedbackPKPrefix},
		},
	}
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListFeedback scan: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// GetFeedback reads one record by id.
func (c *FeedbackClient) GetFeedback(ctx context.Context, id string) (domain.FeedbackRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            feedbackKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("repository: GetFeedback: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.FeedbackRecord{}, fmt.Errorf("%w: feedback %s", domain.ErrRecordNotFound, id)
	}
	rec, err := itemToFeedback(out.Item)
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("repository: GetFeedback unmarshal: %w", err)
	}
	return rec, nil
}

// UpdateFeedbackStatus sets the status of an existing record. Concurrent
// updates are last-writer-wins.
func (c *FeedbackClient) UpdateFeedbackStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 feedbackKey(id),
		UpdateExpression:    aws.String("SET #status = :status"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: feedback %s", domain.ErrRecordNotFound, id)
		}
		return fmt.Errorf("repository: UpdateFeedbackStatus: %w", err)
	}
	return nil
}

func feedbackItem(rec domain.FeedbackRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: feedbackPK(rec.ID)},
		"SK":           &types.AttributeValueMemberS{Value: feedbackSK},
		"id":           &types.AttributeValueMemberS{Value: rec.ID},
		"session_id":   &types.AttributeValueMemberS{Value: rec.SessionID},
		"turn_index":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TurnIndex)},
		"user_message": &types.AttributeValueMemberS{Value: rec.UserMessage},
		"ai_response":  &types.AttributeValueMemberS{Value: rec.AIResponse},
		"rating":       &types.AttributeValueMemberS{Value: string(rec.Rating)},
		"comment":      &types.AttributeValueMemberS{Value: rec.Comment},
		"rewrite":      &types.AttributeValueMemberS{Value: rec.Rewrite},
		"status":       &types.AttributeValueMemberS{Value: string(rec.Status)},
		"timestamp":    &types.AttributeValueMemberS{Value: formatTime(rec.Timestamp)},
	}
}

func itemToFeedback(item map[string]types.AttributeValue) (domain.FeedbackRecord, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	idx, err := intAttr(item, "turn_index")
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	rawStatus, err := strAttr(item, "status")
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	status, ok := domain.ParseStatus(rawStatus)
	if !ok {
		return domain.FeedbackRecord{}, fmt.Errorf("repository: unknown status %q", rawStatus)
	}
	rawRating, _ := strAttr(item, "rating")
	rating, ok := domain.ParseRating(rawRating)
	if !ok {
		return domain.FeedbackRecord{}, fmt.Errorf("repository: unknown rating %q", rawRating)
	}
	// Optional columns are absent on rows written by older clients.
	sessionID, _ := strAttr(item, "session_id")
	userMessage, _ := strAttr(item, "user_message")
	aiResponse, _ := strAttr(item, "ai_response")
	comment, _ := strAttr(item, "comment")
	rewrite, _ := strAttr(item, "rewrite")

	return domain.FeedbackRecord{
		ID:          id,
		SessionID:   sessionID,
		TurnIndex:   idx,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Rating:      rating,
		Comment:     comment,
		Rewrite:     rewrite,
		Status:      status,
		Timestamp:   ts,
	}, nil
}
