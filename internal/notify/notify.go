// Package notify delivers run summaries to a Telegram operations channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pluvio/hydroclim-go/internal/engine"
)

// Notifier sends computation run summaries to a Telegram chat. A notifier
// built without a bot token drops every message silently.
type Notifier struct {
	bot       *bot.Bot
	chatID    string
	indexName string
	log       *logrus.Entry
}

// NewNotifier builds a notifier for the given index. An empty token
// disables delivery.
func NewNotifier(token, chatID, indexName string) *Notifier {
	var b *bot.Bot
	if token != "" {
		var err error
		b, err = bot.New(token)
		if err != nil {
			logrus.WithError(err).Warn("Telegram bot initialization failed, notifications disabled")
		}
	}
	return &Notifier{
		bot:       b,
		chatID:    chatID,
		indexName: indexName,
		log:       logrus.WithField("component", "notify"),
	}
}

// Enabled reports whether the notifier has a working bot to send through.
func (n *Notifier) Enabled() bool {
	return n.bot != nil && n.chatID != ""
}

// RunFinished sends a summary of a completed or failed run.
func (n *Notifier) RunFinished(ctx context.Context, report *engine.RunReport) error {
	if !n.Enabled() {
		return nil
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      n.formatRunMessage(report),
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	n.log.WithField("run_id", report.ID).Debug("Run summary delivered")
	return nil
}

func (n *Notifier) formatRunMessage(report *engine.RunReport) string {
	title := cases.Title(language.English).String(n.indexName)

	var sb strings.Builder
	if report.Error != "" {
		sb.WriteString(fmt.Sprintf("🚨 *%s Run Failed*\n\n", title))
	} else {
		sb.WriteString(fmt.Sprintf("✅ *%s Run Completed*\n\n", title))
	}

	sb.WriteString(fmt.Sprintf("*Run:* `%s`\n", report.ID))
	sb.WriteString(fmt.Sprintf("*Range:* %s to %s\n",
		report.Current.Start.Format("2006-01-02"),
		report.Current.End.Format("2006-01-02")))
	sb.WriteString(fmt.Sprintf("*Duration:* %s\n", report.Duration().Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("*Writes:* %d\n", report.TotalWrites()))

	if failed := report.FailedSteps(); failed > 0 {
		sb.WriteString(fmt.Sprintf("*Failed Steps:* %d\n", failed))
	}
	if report.Error != "" {
		sb.WriteString(fmt.Sprintf("\n*Error:* %s\n", report.Error))
	}

	sb.WriteString("\n*Stages:*\n")
	for _, stage := range report.Stages {
		sb.WriteString(fmt.Sprintf("• %s: %d writes, %d skips", stage.Stage, stage.Writes, stage.Skips))
		if len(stage.Errors) > 0 {
			sb.WriteString(fmt.Sprintf(", %d errors", len(stage.Errors)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
