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
	trainerPKPrefix = "TRAINER#"
	trainerSK       = "LOG"
)

// TrainerLogClient appends reviewer decisions to the trainer_logs table.
type TrainerLogClient struct {
	api       dynamodbAPI
	tableName string
}

func NewTrainerLogClient(api dynamodbAPI, tableName string) (*TrainerLogClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &TrainerLogClient{api: api, tableName: tableName}, nil
}

func (c *TrainerLogClient) AppendDecision(ctx context.Context, d domain.TrainerDecision) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("repository: AppendDecision: decision id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                decisionItem(d),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendDecision: %w", err)
	}
	return nil
}

// ListDecisions returns every trainer decision, newest first.
func (c *TrainerLogClient) ListDecisions(ctx context.Context) ([]domain.TrainerDecision, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(c.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: trainerPKPrefix},
		},
	}
	var out []domain.TrainerDecision
	for {
		page, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListDecisions scan: %w", err)
		}
		for _, item := range page.Items {
			d, err := itemToDecision(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListDecisions unmarshal: %w", err)
			}
			out = append(out, d)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func decisionItem(d domain.TrainerDecision) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: trainerPKPrefix + d.ID},
		"SK":              &types.AttributeValueMemberS{Value: trainerSK},
		"id":              &types.AttributeValueMemberS{Value: d.ID},
		"feedback_id":     &types.AttributeValueMemberS{Value: d.FeedbackID},
		"session_id":      &types.AttributeValueMemberS{Value: d.SessionID},
		"prompt":          &types.AttributeValueMemberS{Value: d.Prompt},
		"ai_response":     &types.AttributeValueMemberS{Value: d.AIResponse},
		"user_rewrite":    &types.AttributeValueMemberS{Value: d.UserRewrite},
		"trainer_rewrite": &types.AttributeValueMemberS{Value: d.TrainerRewrite},
		"decision":        &types.AttributeValueMemberS{Value: string(d.Decision)},
		"notes":           &types.AttributeValueMemberS{Value: d.Notes},
		"timestamp":       &types.AttributeValueMemberS{Value: formatTime(d.Timestamp)},
	}
}

func itemToDecision(item map[string]types.AttributeValue) (domain.TrainerDecision, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.TrainerDecision{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.TrainerDecision{}, err
	}
	rawDecision, _ := strAttr(item, "decision")
	decision, ok := domain.ParseDecision(rawDecision)
	if !ok {
		return domain.TrainerDecision{}, fmt.Errorf("repository: unknown decision %q", rawDecision)
	}
	feedbackID, _ := strAttr(item, "feedback_id")
	sessionID, _ := strAttr(item, "session_id")
	prompt, _ := strAttr(item, "prompt")
	aiResponse, _ := strAttr(item, "ai_response")
	userRewrite, _ := strAttr(item, "user_rewrite")
	trainerRewrite, _ := strAttr(item, "trainer_rewrite")
	notes, _ := strAttr(item, "notes")
	return domain.TrainerDecision{
		ID:             id,
		FeedbackID:     feedbackID,
		SessionID:      sessionID,
		Prompt:         prompt,
		AIResponse:     aiResponse,
		UserRewrite:    userRewrite,
		TrainerRewrite: trainerRewrite,
		Decision:       decision,
		Notes:          notes,
		Timestamp:      ts,
	}, nil
}
