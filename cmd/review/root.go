package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"readwith/internal/feedbackcsv"
	"readwith/internal/integrations/paramstore"
	"readwith/internal/repository"
	"readwith/internal/usecase"
)

type rootFlags struct {
	feedbackTable   string
	trainerLogTable string
	paramPrefix     string
	backend         string
	feedbackFile    string
	logLevel        string
}

func newRootCommand(out io.Writer) *cobra.Command {
	f := &rootFlags{}
	var svc *usecase.ReviewService

	root := &cobra.Command{
		Use:           "review",
		Short:         "Review submitted ReadWith feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(f.logLevel)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			svc, err = newReviewService(cmd.Context(), f, logger)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.feedbackTable, "feedback-table", os.Getenv("FEEDBACK_TABLE"), "DynamoDB table holding feedback records")
	pf.StringVar(&f.trainerLogTable, "trainer-log-table", os.Getenv("TRAINER_LOG_TABLE"), "DynamoDB table holding trainer decisions")
	pf.StringVar(&f.paramPrefix, "param-prefix", os.Getenv("PARAM_PREFIX"), "SSM parameter prefix")
	pf.StringVar(&f.backend, "backend", envOr("FEEDBACK_BACKEND", "dynamodb"), "feedback backend (dynamodb, csv)")
	pf.StringVar(&f.feedbackFile, "feedback-file", envOr("FEEDBACK_FILE", "feedback_log.csv"), "feedback log used by the csv backend")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	addCommands(root, out, func() reviewService { return svc })
	return root
}

func newReviewService(ctx context.Context, f *rootFlags, logger *slog.Logger) (*usecase.ReviewService, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(f.paramPrefix) == "" {
		return nil, fmt.Errorf("--param-prefix is required")
	}
	if strings.TrimSpace(f.trainerLogTable) == "" {
		return nil, fmt.Errorf("--trainer-log-table is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)

	var records usecase.FeedbackStore
	switch strings.ToLower(f.backend) {
	case "dynamodb":
		if strings.TrimSpace(f.feedbackTable) == "" {
			return nil, fmt.Errorf("--feedback-table is required for the dynamodb backend")
		}
		records, err = repository.NewFeedbackClient(dynamoClient, f.feedbackTable)
	case "csv":
		records, err = feedbackcsv.NewStore(f.feedbackFile)
	default:
		return nil, fmt.Errorf("unknown backend %q", f.backend)
	}
	if err != nil {
		return nil, err
	}
	decisions, err := repository.NewTrainerLogClient(dynamoClient, f.trainerLogTable)
	if err != nil {
		return nil, err
	}
	return usecase.NewReviewService(ssmClient, records, decisions, f.paramPrefix, logger)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("cannot parse log-level %q: %w", s, err)
	}
	return level, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
