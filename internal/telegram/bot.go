package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/monitor"
	"github.com/web3-frozen/price-alerts/internal/service"
)

const (
	telegramAPI = "https://api.telegram.org"

	// maxMessageLength is Telegram's limit for one message text.
	maxMessageLength = 4096
	pollTimeout      = 30
)

// Callback data prefixes of the alert keyboard.
const (
	callbackReactivate = "reactivate:"
	callbackOK         = "ok:"
)

// AlertService is what chat commands operate on.
type AlertService interface {
	Create(ctx context.Context, req service.CreateRequest) (alert.Alert, error)
	Reactivate(ctx context.Context, id, ownerID int64, condition, targetPrice string) (alert.Alert, error)
	Delete(ctx context.Context, id, ownerID int64) error
	List(ctx context.Context, ownerID int64, onlyActive bool) ([]alert.Alert, error)
}

type Bot struct {
	client *resty.Client
	alerts AlertService
	logger *slog.Logger
	offset int64
}

func NewBot(token string, alerts AlertService, logger *slog.Logger) *Bot {
	return newBot(telegramAPI, token, alerts, logger)
}

func newBot(baseURL, token string, alerts AlertService, logger *slog.Logger) *Bot {
	client := resty.New().
		SetBaseURL(baseURL+"/bot"+token).
		SetTimeout(time.Duration(pollTimeout+15) * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Bot{
		client: client,
		alerts: alerts,
		logger: logger.With("component", "telegram"),
	}
}

// APIError is a request Telegram rejected.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (b *Bot) call(ctx context.Context, method string, payload any, result any) error {
	var errResp apiResponse
	req := b.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(payload).
		SetError(&errResp)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post("/" + method)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.IsError() {
		code := errResp.ErrorCode
		if code == 0 {
			code = resp.StatusCode()
		}
		return &APIError{Code: code, Description: errResp.Description}
	}
	return nil
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

func alertKeyboard(alertID int64) *inlineKeyboard {
	id := fmt.Sprint(alertID)
	return &inlineKeyboard{InlineKeyboard: [][]inlineButton{{
		{Text: "🔁 Reactivate", CallbackData: callbackReactivate + id},
		{Text: "✅ OK", CallbackData: callbackOK + id},
	}}}
}

type sendMessageRequest struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// Send delivers an alert notification. Rich messages are sent as
// MarkdownV2, plain ones without a parse mode. Alert messages get the
// Reactivate/OK keyboard on their last part.
func (b *Bot) Send(ctx context.Context, msg monitor.Message) error {
	chunks := splitMessage(msg.Text, maxMessageLength)
	for i, chunk := range chunks {
		req := sendMessageRequest{ChatID: msg.ChatID, Text: chunk}
		if msg.Rich {
			req.ParseMode = "MarkdownV2"
		}
		if msg.AlertID != 0 && i == len(chunks)-1 {
			req.ReplyMarkup = alertKeyboard(msg.AlertID)
		}
		if err := b.call(ctx, "sendMessage", req, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendMessage sends a plain text reply to a chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	return b.Send(ctx, monitor.Message{ChatID: chatID, Text: text})
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("send reply failed", "chat_id", chatID, "error", err)
	}
}

// splitMessage cuts text into parts of at most limit characters, preferring
// line boundaries. Concatenating the parts yields text again.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln > limit {
			flush()
		}
		for ln > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			ln -= limit
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return parts
}

// --- Long polling ---

type chat struct {
	ID int64 `json:"id"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *message `json:"message"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// Run starts the long-polling loop for incoming Telegram messages.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	var result struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	err := b.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         b.offset,
		Timeout:        pollTimeout,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &result)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		b.handleUpdate(ctx, u)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "update_id", u.UpdateID, "panic", r)
		}
	}()
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleCommand(ctx, u.Message.Chat.ID, strings.TrimSpace(u.Message.Text))
	}
}
