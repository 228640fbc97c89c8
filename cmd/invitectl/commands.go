package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/logging"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/jobapi"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
	"github.com/njprem/Visitor_Invite_Console/internal/service"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

type deps struct {
	newClient    func(baseURL, token string, logger *slog.Logger) ports.ValidationJobClient
	pollInterval time.Duration
}

func defaultDeps() deps {
	return deps{
		newClient: func(baseURL, token string, logger *slog.Logger) ports.ValidationJobClient {
			return jobapi.NewClient(jobapi.Config{BaseURL: baseURL, Logger: logger}, util.NewBearerToken(token))
		},
		pollInterval: 1500 * time.Millisecond,
	}
}

type globalFlags struct {
	serviceURL string
	token      string
	logLevel   string
}

func rootCmd(d deps) *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:           "invitectl",
		Short:         "Bulk invitation uploads from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.serviceURL, "service-url", os.Getenv("JOB_SERVICE_URL"), "Job Service base URL")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("INVITE_TOKEN"), "Bearer token of the dashboard user")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(templateCmd(d, &g), ticketsCmd(d, &g), uploadCmd(d, &g))
	return cmd
}

func (g *globalFlags) client(d deps, errOut io.Writer) (ports.ValidationJobClient, *slog.Logger, error) {
	if strings.TrimSpace(g.serviceURL) == "" {
		return nil, nil, errors.New("--service-url or JOB_SERVICE_URL is required")
	}
	if strings.TrimSpace(g.token) == "" {
		return nil, nil, errors.New("--token or INVITE_TOKEN is required")
	}
	logger, _ := logging.New(logging.Options{Level: g.logLevel, Output: errOut})
	return d.newClient(g.serviceURL, g.token, logger), logger, nil
}

func templateCmd(d deps, g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the guest list CSV template",
		RunE: func(cmd *cobra.Command, args []string) error {
			var names []string
			if g.serviceURL != "" && g.token != "" {
				client, _, err := g.client(d, cmd.ErrOrStderr())
				if err == nil {
					if types, err := client.ListTicketTypes(cmd.Context()); err == nil {
						for _, t := range types {
							names = append(names, t.Name)
						}
					}
				}
			}
			data, err := service.InviteTemplateCSV(names)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", service.InviteTemplateFilename, "Output file, - for stdout")
	return cmd
}

func ticketsCmd(d deps, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tickets",
		Short: "List the ticket types invitations can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := g.client(d, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			types, err := client.ListTicketTypes(cmd.Context())
			if err != nil {
				return errors.New(domain.UserMessage(err))
			}
			for _, t := range types {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, t.Name)
			}
			return nil
		},
	}
}

type uploadFlags struct {
	file    string
	expire  string
	message string
	confirm bool
	yes     bool
	timeout time.Duration
}

func uploadCmd(d deps, g *globalFlags) *cobra.Command {
	var f uploadFlags
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a guest list, show validation results and optionally send",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := g.client(d, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runUpload(cmd.Context(), d, client, logger, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "CSV file to upload")
	cmd.Flags().StringVar(&f.expire, "expire", "", "Invitation expiry date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.message, "message", "", "Default personal message")
	cmd.Flags().BoolVar(&f.confirm, "confirm", false, "Send the valid rows once validation finishes")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Send even when invalid or duplicate rows will be skipped")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Minute, "How long to wait for validation")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("expire")
	return cmd
}

func runUpload(ctx context.Context, d deps, client ports.ValidationJobClient, logger *slog.Logger, f uploadFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	content, err := os.ReadFile(f.file)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.file, err)
	}

	ctrl := service.NewBulkUploadController(client, service.BulkUploadConfig{
		PollInterval: d.pollInterval,
		Logger:       logger,
	})
	defer ctrl.Close()
	if err := ctrl.LoadTicketTypes(ctx); err != nil {
		logger.Warn("ticket types unavailable", "error", err)
	}

	job, err := ctrl.Upload(ctx, service.UploadFile{Name: filepath.Base(f.file), Content: content}, f.expire, f.message)
	if err != nil {
		return errors.New(message(err))
	}
	fmt.Fprintf(out, "Uploaded %s as job %s, validating...\n", filepath.Base(f.file), job.JobID)

	if err := waitForValidation(ctx, ctrl, d.pollInterval, f.timeout); err != nil {
		return err
	}
	snap := ctrl.Snapshot()
	if snap.State != service.StateReady {
		return errors.New(lastNotice(snap, "validation did not finish"))
	}
	printResults(out, snap)

	if !f.confirm {
		return nil
	}
	outcome, err := ctrl.Confirm(ctx, service.ConfirmOptions{AcknowledgeSkipped: f.yes})
	var required *service.ConfirmationRequiredError
	if errors.As(err, &required) {
		s := required.Summary
		return fmt.Errorf("%d of %d rows would be sent (%d invalid, %d duplicates); rerun with --yes to send anyway",
			s.Sendable, s.Stats.TotalCount, s.Stats.InvalidCount, s.DuplicatesSeen)
	}
	if err != nil {
		return errors.New(message(err))
	}
	sent := outcome.Message
	if sent == "" {
		sent = "Invitations are being sent."
	}
	fmt.Fprintln(out, sent)
	return nil
}

func message(err error) string {
	var pre *service.PreconditionError
	if errors.As(err, &pre) {
		return pre.Err.Error()
	}
	return domain.UserMessage(err)
}

// waitForValidation blocks until the controller leaves the upload and
// validation states and the first rows page is loaded, or gives up after
// timeout.
func waitForValidation(ctx context.Context, ctrl *service.BulkUploadController, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	check := interval / 3
	if check <= 0 {
		check = time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		snap := ctrl.Snapshot()
		switch snap.State {
		case service.StateUploading, service.StateValidating:
		case service.StateReady:
			if !snap.Loading {
				return nil
			}
		default:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("validation still running after %s", timeout)
		case <-ticker.C:
		}
	}
}

func printResults(out io.Writer, snap service.BulkSnapshot) {
	fmt.Fprintf(out, "Total: %d  Valid: %d  Invalid: %d  Sendable: %d\n",
		snap.Stats.TotalCount, snap.Stats.ValidCount, snap.Stats.InvalidCount, snap.Summary.Sendable)
	for _, row := range snap.Rows {
		if !row.ErrorFound && !row.Duplicate && !row.FileLevelDuplicate {
			continue
		}
		fmt.Fprintf(out, "  row %d  %s <%s>:", row.RowNumber, row.GuestName, row.GuestEmail)
		for _, field := range append(append([]string{}, domain.EditableFields...), domain.ErrorKeyDuplicate, domain.ErrorKeyFileLevelDuplicate, domain.ErrorKeyGeneral) {
			if msg, ok := row.Errors[field]; ok {
				fmt.Fprintf(out, " %s: %s;", field, msg)
			}
		}
		fmt.Fprintln(out)
	}
	if snap.Pagination.TotalPages > 1 {
		fmt.Fprintf(out, "Showing page 1 of %d.\n", snap.Pagination.TotalPages)
	}
}

func lastNotice(snap service.BulkSnapshot, fallback string) string {
	for i := len(snap.Notices) - 1; i >= 0; i-- {
		if n := snap.Notices[i]; n.Level == domain.NoticeError || n.Level == domain.NoticeWarning {
			return n.Message
		}
	}
	return fallback
}
