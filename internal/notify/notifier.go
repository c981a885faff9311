package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
)

// maxListedFailures bounds the per-account lines in one message.
const maxListedFailures = 20

// Notifier posts one message per cycle.
type Notifier struct {
	api          BotAPI
	chatID       int64
	onlyFailures bool
	logger       *logging.Logger
}

// New builds a notifier from config. It returns nil when notifications are disabled.
func New(cfg config.TelegramConfig, logger *logging.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	api, err := NewTGBotAPIClient(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewWithAPI(api, cfg.ChatID, cfg.OnlyFailures, logger), nil
}

// NewWithAPI builds a notifier over an existing client.
func NewWithAPI(api BotAPI, chatID int64, onlyFailures bool, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Notifier{
		api:          api,
		chatID:       chatID,
		onlyFailures: onlyFailures,
		logger:       logger,
	}
}

// NotifyCycle sends the cycle summary.
func (n *Notifier) NotifyCycle(ctx context.Context, summary *models.CycleSummary) error {
	if n == nil || summary == nil {
		return nil
	}
	if n.onlyFailures && summary.Error == "" && summary.Failed() == 0 {
		n.logger.DebugWithContext(ctx, "skipping notification for clean cycle")
		return nil
	}
	if err := n.api.SendMessage(n.chatID, FormatCycle(summary)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.logger.DebugWithContext(ctx, "cycle notification sent", "chat_id", n.chatID)
	return nil
}

// FormatCycle renders a cycle summary as Telegram HTML.
func FormatCycle(summary *models.CycleSummary) string {
	var sb strings.Builder

	if summary.Error != "" {
		sb.WriteString("🔴 <b>Check-in cycle aborted</b>\n\n")
		sb.WriteString(fmt.Sprintf("<code>%s</code>\n", html.EscapeString(summary.Error)))
		sb.WriteString(fmt.Sprintf("\n🕒 %s", summary.StartedAt.Format("2006-01-02 15:04:05")))
		return sb.String()
	}

	emoji := "🟢"
	if summary.Failed() > 0 {
		emoji = "🟡"
	}
	if summary.Accounts > 0 && summary.Succeeded() == 0 {
		emoji = "🔴"
	}

	sb.WriteString(fmt.Sprintf("%s <b>Check-in cycle finished</b>\n\n", emoji))
	sb.WriteString(fmt.Sprintf("👥 <b>Accounts:</b> %d\n", summary.Accounts))
	sb.WriteString(fmt.Sprintf("✅ <b>Checked in:</b> %d\n", summary.Succeeded()))
	sb.WriteString(fmt.Sprintf("❌ <b>Failed:</b> %d\n", summary.Failed()))

	if len(summary.Counts) > 0 {
		sb.WriteString("\n")
		for _, category := range summary.Categories() {
			sb.WriteString(fmt.Sprintf("• %s: %d\n", html.EscapeString(category), summary.Counts[category]))
		}
	}

	listed := 0
	for _, r := range summary.Results {
		if r.Stage == models.StageDone && r.Outcome.Succeeded() {
			continue
		}
		if listed == 0 {
			sb.WriteString("\n<b>Problems</b>\n")
		}
		if listed == maxListedFailures {
			sb.WriteString("…\n")
			break
		}
		detail := string(r.Reason)
		if r.Stage == models.StageDone {
			detail = r.Outcome.String()
		}
		sb.WriteString(fmt.Sprintf("  ↳ account %d: %s\n", r.Index+1, html.EscapeString(detail)))
		listed++
	}

	sb.WriteString(fmt.Sprintf("\n⏱ %s", summary.Duration().Round(time.Second)))
	return sb.String()
}
