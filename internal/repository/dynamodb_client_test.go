package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"readwith/internal/domain"
)

type fakeDynamo struct {
	getOut      *dynamodb.GetItemOutput
	getErr      error
	putErr      error
	updateErr   error
	queryPages  []*dynamodb.QueryOutput
	queryErr    error
	scanPages   []*dynamodb.ScanOutput
	scanErr     error
	txErr       error
	lastGetIn   *dynamodb.GetItemInput
	lastPutIn   *dynamodb.PutItemInput
	lastUpdIn   *dynamodb.UpdateItemInput
	queryInputs []*dynamodb.QueryInput
	scanInputs  []*dynamodb.ScanInput
	lastTxIn    *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetIn = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	// Inputs are mutated between pages, so record a copy.
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return out, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	cp := *in
	f.scanInputs = append(f.scanInputs, &cp)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	if len(f.scanPages) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.scanPages[0]
	f.scanPages = f.scanPages[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxIn = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func lastKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestSaveTurn_WritesTurnAndMeta(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	created := time.Date(2025, 5, 1, 11, 59, 0, 0, time.UTC)

	err := c.SaveTurn(context.Background(), "abc", domain.Turn{
		Index:       3,
		UserMessage: "Who is Sabran?",
		AIReply:     "Sabran IX is Queen of Inys.",
		CreatedAt:   created,
	})
	require.NoError(t, err)
	require.NotNil(t, db.lastTxIn)
	require.Len(t, db.lastTxIn.TransactItems, 2)

	turn := db.lastTxIn.TransactItems[0].Put
	require.Equal(t, "test-table", aws.ToString(turn.TableName))
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", aws.ToString(turn.ConditionExpression))
	require.Equal(t, "SESSION#abc", turn.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "TURN#000003", turn.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Who is Sabran?", turn.Item["userMessage"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1746187200", turn.Item["ttl"].(*types.AttributeValueMemberN).Value)

	meta := db.lastTxIn.TransactItems[1].Put
	require.Equal(t, skMeta, meta.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "4", meta.Item["turns"].(*types.AttributeValueMemberN).Value)
}

func TestSaveTurn_ConflictMapsToErrTurnConflict(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}}
	c := mustNewClient(t, db)
	err := c.SaveTurn(context.Background(), "abc", domain.Turn{Index: 0, UserMessage: "q"})
	require.ErrorIs(t, err, domain.ErrTurnConflict)
}

func TestSaveTurn_OtherErrorWrapped(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("throttled")}
	c := mustNewClient(t, db)
	err := c.SaveTurn(context.Background(), "abc", domain.Turn{Index: 0, UserMessage: "q"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrTurnConflict)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestSaveTurn_RequiresSessionID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.Error(t, c.SaveTurn(context.Background(), " ", domain.Turn{}))
	require.Nil(t, db.lastTxIn)
}

func TestSaveDraft_WritesLastSubmittedAtOnlyWhenSet(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SaveDraft(context.Background(), "abc", domain.FeedbackDraft{
		TurnIndex: 1,
		Rating:    domain.RatingDown,
		Comment:   "too vague",
	}))
	item := db.lastPutIn.Item
	require.Equal(t, "DRAFT#000001", item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "down", item["rating"].(*types.AttributeValueMemberS).Value)
	_, ok := item["lastSubmittedAt"]
	require.False(t, ok)

	ts := time.Date(2025, 5, 1, 12, 0, 0, 5000, time.UTC)
	require.NoError(t, c.SaveDraft(context.Background(), "abc", domain.FeedbackDraft{
		TurnIndex:       1,
		Rating:          domain.RatingUp,
		SubmitCount:     1,
		LastSubmittedAt: &ts,
	}))
	require.Equal(t, "2025-05-01T12:00:00.000005000Z", db.lastPutIn.Item["lastSubmittedAt"].(*types.AttributeValueMemberS).Value)
}

func TestLoadSession_RoundTripsTurnsAndDrafts(t *testing.T) {
	created := time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC)
	submitted := created.Add(time.Minute)
	turn0 := turnItem("abc", domain.Turn{Index: 0, UserMessage: "q0", AIReply: "a0", CreatedAt: created}, 1)
	turn1 := turnItem("abc", domain.Turn{Index: 1, UserMessage: "q1", AIReply: "error", CreatedAt: created, Failed: true}, 1)
	draft := draftItem("abc", domain.FeedbackDraft{
		TurnIndex:       0,
		Rating:          domain.RatingUp,
		Rewrite:         "better",
		SubmitCount:     2,
		LastSubmittedAt: &submitted,
	}, 1)
	meta := metaItem("abc", 2, created, 1)

	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{draft, turn0}, LastEvaluatedKey: lastKey("SESSION#abc")},
		{Items: []map[string]types.AttributeValue{turn1, meta}},
	}}
	c := mustNewClient(t, db)

	snap, err := c.LoadSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, db.queryInputs, 2)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
	require.Equal(t, "abc", snap.SessionID)
	require.Equal(t, []domain.Turn{
		{Index: 0, UserMessage: "q0", AIReply: "a0", CreatedAt: created},
		{Index: 1, UserMessage: "q1", AIReply: "error", CreatedAt: created, Failed: true},
	}, snap.Turns)
	require.Len(t, snap.Drafts, 1)
	require.Equal(t, domain.RatingUp, snap.Drafts[0].Rating)
	require.Equal(t, "better", snap.Drafts[0].Rewrite)
	require.Equal(t, 2, snap.Drafts[0].SubmitCount)
	require.Equal(t, submitted, *snap.Drafts[0].LastSubmittedAt)
}

func TestLoadSession_EmptySession(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	snap, err := c.LoadSession(context.Background(), "new")
	require.NoError(t, err)
	require.Empty(t, snap.Turns)
	require.Empty(t, snap.Drafts)
}

func TestLoadSession_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	_, err := c.LoadSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LoadSession")
}

func TestLoadSession_MalformedTurn(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":        &types.AttributeValueMemberS{Value: "TURN#000000"},
		"turnIndex": &types.AttributeValueMemberS{Value: "zero"},
	}
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)
	_, err := c.LoadSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal turn")
}

func TestFormatTime_SortsLexicographically(t *testing.T) {
	a := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	b := a.Add(time.Microsecond)
	require.Less(t, formatTime(a), formatTime(b))
	require.Len(t, formatTime(a), len(formatTime(b)))
}
