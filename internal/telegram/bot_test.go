package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/monitor"
	"github.com/web3-frozen/price-alerts/internal/monitor/sources"
	"github.com/web3-frozen/price-alerts/internal/service"
	"github.com/web3-frozen/price-alerts/internal/store"
)

type apiCall struct {
	Method string
	Body   map[string]any
}

// fakeTelegram records every Bot API call. failParseMode rejects any
// sendMessage that carries a parse_mode.
type fakeTelegram struct {
	mu            sync.Mutex
	calls         []apiCall
	failParseMode bool
	updates       string
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if !strings.HasPrefix(r.URL.Path, "/bottest-token/") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Method: method, Body: body})
		fail := f.failParseMode && method == "sendMessage" && body["parse_mode"] != nil
		updates := f.updates
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`))
			return
		}
		if method == "getUpdates" {
			w.Write([]byte(updates))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	})
}

func (f *fakeTelegram) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type fakeAlerts struct {
	created     []service.CreateRequest
	reactivated []string
	deleted     []int64
	list        []alert.Alert
	err         error
}

func (f *fakeAlerts) Create(_ context.Context, req service.CreateRequest) (alert.Alert, error) {
	if f.err != nil {
		return alert.Alert{}, f.err
	}
	f.created = append(f.created, req)
	p, _ := service.ParsePrice(req.TargetPrice)
	return alert.Alert{ID: 7, Label: req.Label, DisplayName: "Bitcoin (BTC)", Condition: alert.Condition(req.Condition), TargetPrice: p}, nil
}

func (f *fakeAlerts) Reactivate(_ context.Context, id, ownerID int64, cond, price string) (alert.Alert, error) {
	if f.err != nil {
		return alert.Alert{}, f.err
	}
	f.reactivated = append(f.reactivated, cond+" "+price)
	return alert.Alert{ID: id, Condition: alert.Condition(cond), TargetPrice: decimal.RequireFromString(price)}, nil
}

func (f *fakeAlerts) Delete(_ context.Context, id, ownerID int64) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAlerts) List(context.Context, int64, bool) ([]alert.Alert, error) {
	return f.list, f.err
}

func setupTestBot(t *testing.T, tg *fakeTelegram, alerts AlertService) *Bot {
	t.Helper()
	srv := httptest.NewServer(tg.handler(t))
	t.Cleanup(srv.Close)
	return newBot(srv.URL, "test-token", alerts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendRichMessage(t *testing.T) {
	tg := &fakeTelegram{}
	b := setupTestBot(t, tg, &fakeAlerts{})

	err := b.Send(context.Background(), monitor.Message{ChatID: 42, AlertID: 9, Text: "*hi*", Rich: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := tg.byMethod("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(calls))
	}
	body := calls[0].Body
	if body["parse_mode"] != "MarkdownV2" || body["text"] != "*hi*" || body["chat_id"] != float64(42) {
		t.Errorf("body = %v", body)
	}
	markup, _ := json.Marshal(body["reply_markup"])
	if !strings.Contains(string(markup), `"reactivate:9"`) || !strings.Contains(string(markup), `"ok:9"`) {
		t.Errorf("reply_markup = %s", markup)
	}
}

func TestSendPlainMessageHasNoParseMode(t *testing.T) {
	tg := &fakeTelegram{failParseMode: true}
	b := setupTestBot(t, tg, &fakeAlerts{})

	if err := b.Send(context.Background(), monitor.Message{ChatID: 1, Text: "plain"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := tg.byMethod("sendMessage")[0].Body["parse_mode"]; ok {
		t.Error("plain message must not set parse_mode")
	}
}

func TestSendRejectedReturnsAPIError(t *testing.T) {
	tg := &fakeTelegram{failParseMode: true}
	b := setupTestBot(t, tg, &fakeAlerts{})

	err := b.Send(context.Background(), monitor.Message{ChatID: 1, Text: "_bad", Rich: true})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != 400 || !strings.Contains(apiErr.Description, "can't parse entities") {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSendSplitsLongMessages(t *testing.T) {
	tg := &fakeTelegram{}
	b := setupTestBot(t, tg, &fakeAlerts{})

	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 100) // 10000 chars
	if err := b.Send(context.Background(), monitor.Message{ChatID: 1, AlertID: 3, Text: text}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := tg.byMethod("sendMessage")
	if len(calls) != 3 {
		t.Fatalf("parts = %d, want 3", len(calls))
	}
	for i, c := range calls {
		_, hasKeyboard := c.Body["reply_markup"]
		if hasKeyboard != (i == len(calls)-1) {
			t.Errorf("part %d keyboard = %v", i, hasKeyboard)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		parts int
	}{
		{"short", "hello", 10, 1},
		{"line boundaries", "aaaa\nbbbb\ncccc\n", 10, 2},
		{"long single line", strings.Repeat("é", 25), 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitMessage(tt.text, tt.limit)
			if len(parts) != tt.parts {
				t.Errorf("parts = %d, want %d: %q", len(parts), tt.parts, parts)
			}
			if strings.Join(parts, "") != tt.text {
				t.Error("parts do not reassemble the original text")
			}
			for _, p := range parts {
				if n := len([]rune(p)); n > tt.limit {
					t.Errorf("part has %d chars, limit %d", n, tt.limit)
				}
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmd, args := parseCommand("/Watch_CMC@PriceBot 1 above 70000 to the moon")
	if cmd != "/watch_cmc" {
		t.Errorf("cmd = %q", cmd)
	}
	if len(args) != 6 || args[0] != "1" || args[5] != "moon" {
		t.Errorf("args = %v", args)
	}
	if cmd, _ := parseCommand("   "); cmd != "" {
		t.Errorf("empty text cmd = %q", cmd)
	}
}

func TestHandleWatchCommands(t *testing.T) {
	tg := &fakeTelegram{}
	alerts := &fakeAlerts{}
	b := setupTestBot(t, tg, alerts)
	ctx := context.Background()

	b.handleCommand(ctx, 42, "/watch_cmc 1 above 70000 moon shot")
	b.handleCommand(ctx, 42, "/watch eth 0xAbC below 0.5")

	if len(alerts.created) != 2 {
		t.Fatalf("created = %d, want 2", len(alerts.created))
	}
	cmc := alerts.created[0]
	if cmc.OwnerID != 42 || cmc.Source != "cmc" || cmc.CMCID != 1 || cmc.Condition != "above" ||
		cmc.TargetPrice != "70000" || cmc.Label != "moon shot" {
		t.Errorf("cmc request = %+v", cmc)
	}
	gecko := alerts.created[1]
	if gecko.Source != "coingecko" || gecko.Network != "eth" || gecko.Address != "0xAbC" || gecko.Label != "" {
		t.Errorf("gecko request = %+v", gecko)
	}
	replies := tg.byMethod("sendMessage")
	if len(replies) != 2 || !strings.Contains(replies[0].Body["text"].(string), "Alert #7 created") {
		t.Errorf("replies = %+v", replies)
	}
}

func TestHandleCommandUsageAndErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		want string
	}{
		{"watch usage", "/watch eth 0x1", nil, "Usage: /watch"},
		{"bad cmc id", "/watch_cmc btc above 1", nil, "positive number"},
		{"unknown", "/moon", nil, "Unknown command"},
		{"not found", "/delete 5", store.ErrNotFound, "Alert not found"},
		{"bad price", "/reactivate 5 above -1", alert.ErrInvalidPrice, "positive number"},
		{"token missing", "/watch_cmc 99999 above 1", sources.ErrTokenNotFound, "Token not found"},
		{"internal", "/alerts", errors.New("db down"), "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := &fakeTelegram{}
			b := setupTestBot(t, tg, &fakeAlerts{err: tt.err})
			b.handleCommand(context.Background(), 1, tt.text)

			replies := tg.byMethod("sendMessage")
			if len(replies) != 1 {
				t.Fatalf("replies = %d, want 1", len(replies))
			}
			if text := replies[0].Body["text"].(string); !strings.Contains(text, tt.want) {
				t.Errorf("reply = %q, want substring %q", text, tt.want)
			}
		})
	}
}

func TestHandleListFormatsAlerts(t *testing.T) {
	price := decimal.RequireFromString("71000")
	tg := &fakeTelegram{}
	b := setupTestBot(t, tg, &fakeAlerts{list: []alert.Alert{
		{ID: 1, Label: "btc", DisplayName: "Bitcoin (BTC)", Target: alert.CMCTarget{ID: 1},
			Condition: alert.Above, TargetPrice: decimal.NewFromInt(70000), LastTriggeredPrice: &price},
		{ID: 2, Label: "foo", DisplayName: "Foo (FOO)", Target: alert.CoinGeckoTarget{Network: "eth", Address: "0x1"},
			Condition: alert.Below, TargetPrice: decimal.RequireFromString("0.5"), Active: true},
	}})
	b.handleCommand(context.Background(), 1, "/alerts")

	text := tg.byMethod("sendMessage")[0].Body["text"].(string)
	for _, want := range []string{"#1 btc", "$70,000", "triggered at $71,000", "#2 foo", "[coingecko]"} {
		if !strings.Contains(text, want) {
			t.Errorf("list missing %q:\n%s", want, text)
		}
	}
}

func TestHandleCallbacks(t *testing.T) {
	tg := &fakeTelegram{}
	b := setupTestBot(t, tg, &fakeAlerts{})
	ctx := context.Background()
	msg := &message{MessageID: 77, Chat: chat{ID: 42}}

	b.handleCallback(ctx, &callbackQuery{ID: "cb1", Data: "ok:9", Message: msg})
	edits := tg.byMethod("editMessageReplyMarkup")
	if len(edits) != 1 || edits[0].Body["message_id"] != float64(77) || edits[0].Body["chat_id"] != float64(42) {
		t.Fatalf("edits = %+v", edits)
	}

	b.handleCallback(ctx, &callbackQuery{ID: "cb2", Data: "reactivate:9", Message: msg})
	sends := tg.byMethod("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0].Body["text"].(string), "/reactivate 9") {
		t.Fatalf("sends = %+v", sends)
	}

	if answers := tg.byMethod("answerCallbackQuery"); len(answers) != 2 {
		t.Errorf("answers = %d, want 2", len(answers))
	}
}

func TestPollAdvancesOffset(t *testing.T) {
	tg := &fakeTelegram{updates: `{"ok":true,"result":[
		{"update_id":10,"message":{"message_id":1,"chat":{"id":5},"text":"/help"}},
		{"update_id":11,"callback_query":{"id":"q","data":"ok:1","message":{"message_id":2,"chat":{"id":5}}}}
	]}`}
	b := setupTestBot(t, tg, &fakeAlerts{})

	b.poll(context.Background())

	if b.offset != 12 {
		t.Errorf("offset = %d, want 12", b.offset)
	}
	polls := tg.byMethod("getUpdates")
	if len(polls) != 1 || polls[0].Body["offset"] != float64(0) {
		t.Errorf("getUpdates = %+v", polls)
	}
	if len(tg.byMethod("sendMessage")) != 1 || len(tg.byMethod("answerCallbackQuery")) != 1 {
		t.Error("updates were not dispatched")
	}
}
