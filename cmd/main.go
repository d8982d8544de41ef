package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"readwith/handler"
	"readwith/internal/feedbackcsv"
	"readwith/internal/integrations/openai"
	"readwith/internal/integrations/paramstore"
	"readwith/internal/integrations/vectorsearch"
	"readwith/internal/repository"
	"readwith/internal/retrieval"
	"readwith/internal/usecase"
)

const defaultEmbeddingModel = "text-embedding-3-small"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	sessionTable := mustEnv("SESSION_TABLE")
	trainerLogTable := mustEnv("TRAINER_LOG_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	feedbackBackend := envString("FEEDBACK_BACKEND", "dynamodb")
	vectorDSN := os.Getenv("VECTOR_DSN")
	matchFunction := envString("VECTOR_MATCH_FUNCTION", vectorsearch.DefaultMatchFunction)
	chatCfg := usecase.ChatConfig{
		ParamPrefix:       paramPrefix,
		MaxMessageLen:     envInt("MAX_MESSAGE_LENGTH", 2000),
		TopK:              envInt("RETRIEVAL_TOP_K", retrieval.DefaultTopK),
		Threshold:         envFloat("RETRIEVAL_THRESHOLD", retrieval.DefaultThreshold),
		GenerationTimeout: envDuration("GENERATION_TIMEOUT_SECONDS", 60*time.Second),
		RetrievalTimeout:  envDuration("RETRIEVAL_TIMEOUT_SECONDS", 10*time.Second),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	sessionClient, err := repository.New(dynamoClient, sessionTable)
	if err != nil {
		slog.Error("failed to create session client", "err", err)
		os.Exit(1)
	}
	trainerClient, err := repository.NewTrainerLogClient(dynamoClient, trainerLogTable)
	if err != nil {
		slog.Error("failed to create trainer log client", "err", err)
		os.Exit(1)
	}

	var records usecase.FeedbackStore
	switch strings.ToLower(feedbackBackend) {
	case "dynamodb":
		records, err = repository.NewFeedbackClient(dynamoClient, mustEnv("FEEDBACK_TABLE"))
	case "csv":
		records, err = feedbackcsv.NewStore(envString("FEEDBACK_FILE", "feedback_log.csv"))
	default:
		slog.Error("unknown feedback backend", "backend", feedbackBackend)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("failed to create feedback store", "backend", feedbackBackend, "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Usecases ----
	chatOpts := []usecase.ChatOption{usecase.WithChatLogger(logger)}
	if vectorDSN != "" {
		r, err := newRetriever(ctx, ssmClient, openaiClient, paramPrefix, vectorDSN, matchFunction)
		if err != nil {
			slog.Error("failed to create retriever", "err", err)
			os.Exit(1)
		}
		chatOpts = append(chatOpts, usecase.WithRetriever(r))
	} else {
		slog.Warn("VECTOR_DSN not set, replies are generated without book context")
	}

	chatService, err := usecase.NewChatService(ssmClient, openaiClient, sessionClient, chatCfg, chatOpts...)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	feedbackService, err := usecase.NewFeedbackService(sessionClient, records, logger)
	if err != nil {
		slog.Error("failed to create feedback service", "err", err)
		os.Exit(1)
	}
	reviewService, err := usecase.NewReviewService(ssmClient, records, trainerClient, paramPrefix, logger)
	if err != nil {
		slog.Error("failed to create review service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, feedbackService, reviewService, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func newRetriever(ctx context.Context, ps paramstore.Getter, embedder retrieval.Embedder, paramPrefix, dsn, function string) (*retrieval.Retriever, error) {
	searcher, err := vectorsearch.Open(dsn, function)
	if err != nil {
		return nil, err
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	model, err := paramstore.GetParameterOrDefault(lookupCtx, ps, strings.TrimRight(paramPrefix, "/")+"/config/embedding_model", defaultEmbeddingModel)
	if err != nil {
		slog.Warn("failed to load embedding model, using default", "model", defaultEmbeddingModel, "err", err)
		model = defaultEmbeddingModel
	}
	return retrieval.New(embedder, searcher, model)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	n := envInt(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
