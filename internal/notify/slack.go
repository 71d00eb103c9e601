// Package notify posts batch summaries to the team's Slack channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/credentials"
	"github.com/brensch/migrobot/internal/util"
)

// Report is the outcome of one batch run as shown in chat.
type Report struct {
	MigType   string
	Processed int
	Success   []string
	Failed    []string
	// Missing maps customer to the number of documents the tool did not
	// find. Only MLM runs fill it.
	Missing map[string]int
	// NotFound maps customer to the source files its cmd scripts skipped.
	NotFound map[string]int
	Duration time.Duration
	// LogFile is uploaded after the message when set.
	LogFile string
}

// Message renders the chat text for r.
func Message(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s migration:*\n\n", r.MigType)
	if r.Processed == 0 {
		b.WriteString("No unprocessed customer files found\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Processed: %d\n", r.Processed)
	fmt.Fprintf(&b, "Success: %s\n", strings.Join(r.Success, ", "))
	fmt.Fprintf(&b, "Failed: %s\n", strings.Join(r.Failed, ", "))
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "Missing documents: %s\n", perCustomer(r.Missing))
	}
	if len(r.NotFound) > 0 {
		fmt.Fprintf(&b, "Files not found: %s\n", perCustomer(r.NotFound))
	}
	fmt.Fprintf(&b, "Duration: %s\n", util.FormatDuration(r.Duration))
	return b.String()
}

func perCustomer(counts map[string]int) string {
	customers := make([]string, 0, len(counts))
	for c := range counts {
		customers = append(customers, c)
	}
	sort.Strings(customers)
	parts := make([]string, 0, len(customers))
	for _, c := range customers {
		parts = append(parts, fmt.Sprintf("%s (%d)", c, counts[c]))
	}
	return strings.Join(parts, ", ")
}

// Slack sends messages through an incoming webhook and uploads files with
// the bot token.
type Slack struct {
	webhookURL string
	channel    string
	api        *slack.Client
	logger     *slog.Logger
}

// New builds a notifier from the credentials item: the webhook URL is kept
// in the url field and the bot token in the notes.
func New(cfg config.SlackConfig, item credentials.Item, logger *slog.Logger, opts ...slack.Option) (*Slack, error) {
	if item.URL == "" {
		return nil, fmt.Errorf("credentials item %q has no webhook url", item.Name)
	}
	s := &Slack{webhookURL: item.URL, channel: cfg.Channel, logger: logger}
	if item.Notes != "" {
		s.api = slack.New(item.Notes, opts...)
	}
	return s, nil
}

// Notify posts the summary message, then uploads the log file if the
// report names one.
func (s *Slack) Notify(ctx context.Context, r Report) error {
	var errs []error
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: Message(r)}); err != nil {
		errs = append(errs, fmt.Errorf("post slack message: %w", err))
	}

	if r.LogFile != "" {
		switch {
		case s.api == nil:
			s.logger.Warn("No Slack bot token, skipping log upload.", slog.String("file", r.LogFile))
		case s.channel == "":
			s.logger.Warn("No Slack channel configured, skipping log upload.", slog.String("file", r.LogFile))
		default:
			_, err := s.api.UploadFileContext(ctx, slack.FileUploadParameters{
				File:     r.LogFile,
				Filename: filepath.Base(r.LogFile),
				Channels: []string{s.channel},
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("upload %s to slack: %w", r.LogFile, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("Batch summary sent to Slack.", slog.String("mig_type", r.MigType))
	return nil
}
