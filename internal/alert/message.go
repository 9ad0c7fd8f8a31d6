package alert

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// RichMessage renders the trigger notification as Telegram MarkdownV2.
func RichMessage(a Alert, current decimal.Decimal) string {
	var b strings.Builder
	b.WriteString("🚨 *Price Alert Triggered* 🚨\n\n")
	fmt.Fprintf(&b, "🔔 *Label*: _%s_\n", EscapeMarkdown(a.Label))
	fmt.Fprintf(&b, "🪙 *Token*: *%s*\n", EscapeMarkdown(displayName(a)))
	fmt.Fprintf(&b, "📈 *Current Price*: `%s`\n", escapeCode("$"+FormatPrice(current)))
	fmt.Fprintf(&b, "🎯 *Condition*: %s `%s`\n\n",
		EscapeMarkdown(a.Condition.Title()), escapeCode("$"+FormatPrice(a.TargetPrice)))
	b.WriteString(EscapeMarkdown("This alert has now been deactivated."))
	return b.String()
}

// PlainMessage carries the same content as RichMessage without markup. It
// is the fallback when Telegram rejects the rich variant.
func PlainMessage(a Alert, current decimal.Decimal) string {
	var b strings.Builder
	b.WriteString("🚨 Price Alert Triggered 🚨\n\n")
	fmt.Fprintf(&b, "🔔 Label: %s\n", a.Label)
	fmt.Fprintf(&b, "🪙 Token: %s\n", displayName(a))
	fmt.Fprintf(&b, "📈 Current Price: $%s\n", FormatPrice(current))
	fmt.Fprintf(&b, "🎯 Condition: %s $%s\n\n", a.Condition.Title(), FormatPrice(a.TargetPrice))
	b.WriteString("This alert has now been deactivated.")
	return b.String()
}

func displayName(a Alert) string {
	if a.DisplayName == "" {
		return "Unknown Token"
	}
	return a.DisplayName
}

// markdownSpecial is the MarkdownV2 reserved set outside code entities.
const markdownSpecial = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdown escapes s for use as MarkdownV2 body text.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes s for use inside a MarkdownV2 code span.
func escapeCode(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "`", "\\`")
}

// FormatPrice renders a USD price with precision scaled to its magnitude so
// that small non-zero prices never collapse to 0.0000.
func FormatPrice(p decimal.Decimal) string {
	if p.IsZero() {
		return "0.00"
	}
	abs := p.Abs()
	f, _ := abs.Float64()

	if f < 1e-4 {
		places := 4 + int32(math.Abs(math.Log10(f)))
		s := strings.TrimRight(p.StringFixed(places), "0")
		if strings.HasSuffix(s, ".") {
			s += "0"
		}
		return s
	}

	var places int32
	switch {
	case f >= 1000:
		places = 0
	case f >= 100:
		places = 1
	case f >= 1:
		places = 2
	case f >= 0.01:
		places = 4
	default:
		places = 6
	}
	return addCommas(p.StringFixed(places))
}

func addCommas(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		return sign + s
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return sign + string(result) + "." + parts[1]
	}
	return sign + string(result)
}
