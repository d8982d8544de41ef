package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"readwith/internal/domain"
)

const (
	skPrefixTurn  = "TURN#"
	skPrefixDraft = "DRAFT#"
	skMeta        = "META#"
	ttlDuration   = 24 * time.Hour // conversation state lives for one session
)

// dynamodbAPI is the minimal DynamoDB interface required by the clients in this
// package. Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding per-session conversation state: one
// item per turn, one per feedback draft, and a META# item.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new session state Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK zero-pads the index so sort order matches turn order.
func turnSK(index int) string {
	return fmt.Sprintf("%s%06d", skPrefixTurn, index)
}

func draftSK(index int) string {
	return fmt.Sprintf("%s%06d", skPrefixDraft, index)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// LoadSession reads every item of a session. A session that has never been
// written yields an empty snapshot.
func (c *Client) LoadSession(ctx context.Context, sessionID string) (domain.SessionSnapshot, error) {
	snap := domain.SessionSnapshot{SessionID: sessionID}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		},
		ConsistentRead: aws.Bool(true),
	}

	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return domain.SessionSnapshot{}, fmt.Errorf("repository: LoadSession query: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return domain.SessionSnapshot{}, fmt.Errorf("repository: LoadSession: %w", err)
			}
			switch {
			case strings.HasPrefix(sk, skPrefixTurn):
				t, err := itemToTurn(item)
				if err != nil {
					return domain.SessionSnapshot{}, fmt.Errorf("repository: LoadSession unmarshal turn: %w", err)
				}
				snap.Turns = append(snap.Turns, t)
			case strings.HasPrefix(sk, skPrefixDraft):
				d, err := itemToDraft(item)
				if err != nil {
					return domain.SessionSnapshot{}, fmt.Errorf("repository: LoadSession unmarshal draft: %w", err)
				}
				snap.Drafts = append(snap.Drafts, d)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return snap, nil
}

// SaveTurn writes a new turn and refreshes the session metadata in one
// transaction. Writing an index twice fails with domain.ErrTurnConflict.
func (c *Client) SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveTurn: session id is required")
	}
	ttl := c.ttlValue()
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(sessionID, turn, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(sessionID, turn.Index+1, c.now(), ttl),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && hasConditionalFailure(canceled) {
			return fmt.Errorf("%w: session %s turn %d", domain.ErrTurnConflict, sessionID, turn.Index)
		}
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveDraft writes or replaces the feedback draft of a turn.
func (c *Client) SaveDraft(ctx context.Context, sessionID string, draft domain.FeedbackDraft) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveDraft: session id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      draftItem(sessionID, draft, c.ttlValue()),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveDraft: %w", err)
	}
	return nil
}

func hasConditionalFailure(e *types.TransactionCanceledException) bool {
	for _, r := range e.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func turnItem(sessionID string, t domain.Turn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":          &types.AttributeValueMemberS{Value: turnSK(t.Index)},
		"sessionId":   &types.AttributeValueMemberS{Value: sessionID},
		"turnIndex":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", t.Index)},
		"userMessage": &types.AttributeValueMemberS{Value: t.UserMessage},
		"aiReply":     &types.AttributeValueMemberS{Value: t.AIReply},
		"createdAt":   &types.AttributeValueMemberS{Value: formatTime(t.CreatedAt)},
		"failed":      &types.AttributeValueMemberBOOL{Value: t.Failed},
		"ttl":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func draftItem(sessionID string, d domain.FeedbackDraft, ttl int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":          &types.AttributeValueMemberS{Value: draftSK(d.TurnIndex)},
		"turnIndex":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", d.TurnIndex)},
		"rating":      &types.AttributeValueMemberS{Value: string(d.Rating)},
		"comment":     &types.AttributeValueMemberS{Value: d.Comment},
		"rewrite":     &types.AttributeValueMemberS{Value: d.Rewrite},
		"submitCount": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", d.SubmitCount)},
		"ttl":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
	if d.LastSubmittedAt != nil {
		item["lastSubmittedAt"] = &types.AttributeValueMemberS{Value: formatTime(*d.LastSubmittedAt)}
	}
	return item
}

func metaItem(sessionID string, turns int, lastActivity time.Time, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: sessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: lastActivity.UTC().Format(time.RFC3339)},
		"turns":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turns)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	idx, err := intAttr(item, "turnIndex")
	if err != nil {
		return domain.Turn{}, err
	}
	user, err := strAttr(item, "userMessage")
	if err != nil {
		return domain.Turn{}, err
	}
	reply, _ := strAttr(item, "aiReply") // allow empty
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{
		Index:       idx,
		UserMessage: user,
		AIReply:     reply,
		CreatedAt:   created,
		Failed:      boolAttr(item, "failed"),
	}, nil
}

func itemToDraft(item map[string]types.AttributeValue) (domain.FeedbackDraft, error) {
	idx, err := intAttr(item, "turnIndex")
	if err != nil {
		return domain.FeedbackDraft{}, err
	}
	rawRating, _ := strAttr(item, "rating")
	rating, ok := domain.ParseRating(rawRating)
	if !ok {
		return domain.FeedbackDraft{}, fmt.Errorf("repository: unknown rating %q", rawRating)
	}
	comment, _ := strAttr(item, "comment")
	rewrite, _ := strAttr(item, "rewrite")
	count, err := intAttr(item, "submitCount")
	if err != nil {
		count = 0
	}
	d := domain.FeedbackDraft{
		TurnIndex:   idx,
		Rating:      rating,
		Comment:     comment,
		Rewrite:     rewrite,
		SubmitCount: count,
	}
	if _, ok := item["lastSubmittedAt"]; ok {
		ts, err := timeAttr(item, "lastSubmittedAt")
		if err != nil {
			return domain.FeedbackDraft{}, err
		}
		d.LastSubmittedAt = &ts
	}
	return d, nil
}
