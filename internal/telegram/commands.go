package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/monitor/sources"
	"github.com/web3-frozen/price-alerts/internal/service"
	"github.com/web3-frozen/price-alerts/internal/store"
)

const helpText = "🤖 Price Alert Bot\n\n" +
	"Commands:\n" +
	"/watch_cmc <cmc_id> <above|below> <price> [label]\n" +
	"    Alert on a CoinMarketCap asset, e.g. /watch_cmc 1 above 70000\n" +
	"/watch <network> <address> <above|below> <price> [label]\n" +
	"    Alert on an on-chain token, e.g. /watch eth 0x6982...1933 below 0.00001\n" +
	"/alerts - List your alerts\n" +
	"/reactivate <id> <above|below> <price> - Re-arm a triggered alert\n" +
	"/delete <id> - Delete an alert\n" +
	"/help - Show this message\n\n" +
	"An alert fires once and is then deactivated."

// parseCommand splits "/cmd@BotName a b c" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd, args := parseCommand(text)
	switch cmd {
	case "/start", "/help":
		b.reply(ctx, chatID, helpText)
	case "/alerts":
		b.handleList(ctx, chatID)
	case "/watch_cmc":
		b.handleWatchCMC(ctx, chatID, args)
	case "/watch":
		b.handleWatch(ctx, chatID, args)
	case "/reactivate":
		b.handleReactivate(ctx, chatID, args)
	case "/delete":
		b.handleDelete(ctx, chatID, args)
	default:
		b.reply(ctx, chatID, "Unknown command. Send /help for available commands.")
	}
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	alerts, err := b.alerts.List(ctx, chatID, false)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	if len(alerts) == 0 {
		b.reply(ctx, chatID, "You have no alerts yet. Send /help to see how to create one.")
		return
	}
	var sb strings.Builder
	sb.WriteString("📋 Your alerts:\n")
	for _, a := range alerts {
		sb.WriteString(formatAlertLine(a))
		sb.WriteByte('\n')
	}
	b.reply(ctx, chatID, sb.String())
}

func formatAlertLine(a alert.Alert) string {
	status := "🟢"
	if !a.Active {
		status = "⚪"
	}
	line := fmt.Sprintf("%s #%d %s: %s %s $%s [%s]", status, a.ID, a.Label, a.DisplayName,
		a.Condition, alert.FormatPrice(a.TargetPrice), a.Source())
	if !a.Active && a.LastTriggeredPrice != nil {
		line += fmt.Sprintf(" (triggered at $%s)", alert.FormatPrice(*a.LastTriggeredPrice))
	}
	return line
}

func (b *Bot) handleWatchCMC(ctx context.Context, chatID int64, args []string) {
	if len(args) < 3 {
		b.reply(ctx, chatID, "Usage: /watch_cmc <cmc_id> <above|below> <price> [label]")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		b.reply(ctx, chatID, "CoinMarketCap id must be a positive number.")
		return
	}
	b.create(ctx, chatID, service.CreateRequest{
		OwnerID:     chatID,
		Source:      string(alert.SourceCMC),
		CMCID:       id,
		Condition:   args[1],
		TargetPrice: args[2],
		Label:       strings.Join(args[3:], " "),
	})
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64, args []string) {
	if len(args) < 4 {
		b.reply(ctx, chatID, "Usage: /watch <network> <address> <above|below> <price> [label]")
		return
	}
	b.create(ctx, chatID, service.CreateRequest{
		OwnerID:     chatID,
		Source:      string(alert.SourceCoinGecko),
		Network:     args[0],
		Address:     args[1],
		Condition:   args[2],
		TargetPrice: args[3],
		Label:       strings.Join(args[4:], " "),
	})
}

func (b *Bot) create(ctx context.Context, chatID int64, req service.CreateRequest) {
	a, err := b.alerts.Create(ctx, req)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("✅ Alert #%d created: %s\n%s %s $%s",
		a.ID, a.Label, a.DisplayName, a.Condition, alert.FormatPrice(a.TargetPrice)))
}

func (b *Bot) handleReactivate(ctx context.Context, chatID int64, args []string) {
	if len(args) != 3 {
		b.reply(ctx, chatID, "Usage: /reactivate <id> <above|below> <price>")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Alert id must be a number.")
		return
	}
	a, err := b.alerts.Reactivate(ctx, id, chatID, args[1], args[2])
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("🔁 Alert #%d is active again: %s %s $%s",
		a.ID, a.DisplayName, a.Condition, alert.FormatPrice(a.TargetPrice)))
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "Usage: /delete <id>")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Alert id must be a number.")
		return
	}
	if err := b.alerts.Delete(ctx, id, chatID); err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("🗑 Alert #%d deleted.", id))
}

func (b *Bot) replyError(ctx context.Context, chatID int64, err error) {
	var msg string
	switch {
	case errors.Is(err, alert.ErrInvalidCondition):
		msg = "Condition must be 'above' or 'below'."
	case errors.Is(err, alert.ErrInvalidPrice):
		msg = "Price must be a positive number."
	case errors.Is(err, alert.ErrInvalidTarget):
		msg = "That token reference is not valid."
	case errors.Is(err, sources.ErrTokenNotFound):
		msg = "Token not found. Check the id or the network and address."
	case errors.Is(err, store.ErrNotFound):
		msg = "Alert not found."
	default:
		b.logger.Error("command failed", "chat_id", chatID, "error", err)
		msg = "❌ Something went wrong. Please try again later."
	}
	b.reply(ctx, chatID, msg)
}

// --- Callbacks ---

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type editReplyMarkupRequest struct {
	ChatID      int64          `json:"chat_id"`
	MessageID   int64          `json:"message_id"`
	ReplyMarkup inlineKeyboard `json:"reply_markup"`
}

func (b *Bot) handleCallback(ctx context.Context, q *callbackQuery) {
	answer := answerCallbackRequest{CallbackQueryID: q.ID}

	switch {
	case strings.HasPrefix(q.Data, callbackReactivate) && q.Message != nil:
		id := strings.TrimPrefix(q.Data, callbackReactivate)
		b.reply(ctx, q.Message.Chat.ID, fmt.Sprintf(
			"To re-arm alert #%s send:\n/reactivate %s <above|below> <price>", id, id))
	case strings.HasPrefix(q.Data, callbackOK) && q.Message != nil:
		edit := editReplyMarkupRequest{
			ChatID:      q.Message.Chat.ID,
			MessageID:   q.Message.MessageID,
			ReplyMarkup: inlineKeyboard{InlineKeyboard: [][]inlineButton{}},
		}
		if err := b.call(ctx, "editMessageReplyMarkup", edit, nil); err != nil {
			b.logger.Warn("clear keyboard failed", "error", err)
		}
		answer.Text = "👍"
	default:
		answer.Text = "Unknown action"
	}

	if err := b.call(ctx, "answerCallbackQuery", answer, nil); err != nil {
		b.logger.Warn("answer callback failed", "error", err)
	}
}
