package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"readwith/internal/domain"
	"readwith/internal/usecase"
)

// reviewService is the part of usecase.ReviewService the commands drive.
type reviewService interface {
	List(ctx context.Context, status string) ([]domain.FeedbackRecord, error)
	Transition(ctx context.Context, recordID, status string) error
	Export(ctx context.Context, status string, w io.Writer) error
	Summary(ctx context.Context) (domain.FeedbackSummary, error)
	RecordDecision(ctx context.Context, in usecase.DecisionInput) (domain.TrainerDecision, error)
	ExportDecisions(ctx context.Context, w io.Writer) error
}

func addCommands(root *cobra.Command, out io.Writer, svc func() reviewService) {
	root.AddCommand(
		newListCommand(out, svc),
		newTransitionCommand(out, svc, "approve", string(domain.StatusApproved)),
		newTransitionCommand(out, svc, "reject", string(domain.StatusRejected)),
		newExportCommand(out, svc),
		newSummaryCommand(out, svc),
		newDecideCommand(out, svc),
		newExportDecisionsCommand(out, svc),
	)
}

func newListCommand(out io.Writer, svc func() reviewService) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feedback records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := svc().List(cmd.Context(), status)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIMESTAMP\tSTATUS\tRATING\tSESSION\tTURN\tMESSAGE")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Timestamp.UTC().Format("2006-01-02 15:04:05"), r.Status, r.Rating,
					r.SessionID, r.TurnIndex, truncate(r.UserMessage, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list records with this status (pending, approved, rejected)")
	return cmd
}

func newTransitionCommand(out io.Writer, svc func() reviewService, use, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <record-id>",
		Short: fmt.Sprintf("Mark a feedback record %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc().Transition(cmd.Context(), args[0], status); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", args[0], status)
			return nil
		},
	}
}

func newExportCommand(out io.Writer, svc func() reviewService) *cobra.Command {
	var status, path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export feedback records as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeTo(out, path, func(w io.Writer) error {
				return svc().Export(cmd.Context(), status, w)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only export records with this status")
	cmd.Flags().StringVarP(&path, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func newSummaryCommand(out io.Writer, svc func() reviewService) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print record counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := svc().Summary(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
}

func newDecideCommand(out io.Writer, svc func() reviewService) *cobra.Command {
	var decision, rewrite, notes string
	cmd := &cobra.Command{
		Use:   "decide <record-id>",
		Short: "Log a trainer decision for a feedback record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := svc().RecordDecision(cmd.Context(), usecase.DecisionInput{
				FeedbackID:     args[0],
				Decision:       decision,
				TrainerRewrite: rewrite,
				Notes:          notes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "decision %s logged for %s: %s\n", d.ID, d.FeedbackID, d.Decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "preferred answer (ai_response, rewrite, neither)")
	cmd.Flags().StringVar(&rewrite, "rewrite", "", "trainer rewrite; defaults to the user's rewrite")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func newExportDecisionsCommand(out io.Writer, svc func() reviewService) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export-decisions",
		Short: "Export trainer decisions as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeTo(out, path, func(w io.Writer) error {
				return svc().ExportDecisions(cmd.Context(), w)
			})
		},
	}
	cmd.Flags().StringVarP(&path, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

// writeTo runs write against path, or against out when path is empty.
func writeTo(out io.Writer, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(out)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
