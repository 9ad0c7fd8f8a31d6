package monitor

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/price-alerts/internal/alert"
)

// AlertStore is the persistence a Loop needs.
type AlertStore interface {
	ActiveAlerts(ctx context.Context, source alert.Source) ([]alert.Alert, error)
	DeactivateAndLog(ctx context.Context, id int64, price decimal.Decimal) (bool, error)
}

// Message is one outgoing notification. Rich messages are Telegram
// MarkdownV2; plain ones carry no markup.
type Message struct {
	ChatID  int64
	AlertID int64
	Text    string
	Rich    bool
}

// Notifier delivers a message to the owner's chat.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Deduper remembers which trigger generations were already delivered.
// AlreadySent must report false when it cannot tell.
type Deduper interface {
	AlreadySent(ctx context.Context, key string) bool
	Record(ctx context.Context, key string)
}

// dedupKey identifies one trigger of one alert. Reactivation does not reset
// trigger_count, so every generation gets its own key.
func dedupKey(a alert.Alert) string {
	return "alert:" + strconv.FormatInt(a.ID, 10) + ":" + strconv.Itoa(a.TriggerCount)
}
