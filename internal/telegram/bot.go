package telegram

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker"

	"github.com/dantezy/polyweather/internal/engine"
	"github.com/dantezy/polyweather/internal/weather"
)

// ErrUnavailable is returned while the send circuit is open.
var ErrUnavailable = errors.New("telegram unavailable")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot handles Telegram notifications for forecast anomalies and daily reports.
type Bot struct {
	api      sender
	chatID   int64
	disabled bool
	circuit  *gobreaker.CircuitBreaker
	now      func() time.Time
}

// NewBot creates a new Telegram bot instance.
// If token is empty, returns a no-op bot that logs messages instead of sending.
func NewBot(token, chatID string) (*Bot, error) {
	if token == "" {
		log.Println("[telegram] no token provided, running in disabled mode (logging only)")
		return &Bot{disabled: true, now: time.Now}, nil
	}

	parsedChatID, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Printf("[telegram] authorized as @%s", api.Self.UserName)

	return newBot(api, parsedChatID), nil
}

func newBot(api sender, chatID int64) *Bot {
	return &Bot{
		api:     api,
		chatID:  chatID,
		circuit: newCircuit(),
		now:     time.Now,
	}
}

func newCircuit() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[telegram] circuit %s: %s -> %s", name, from, to)
		},
	})
}

// SendMessage sends a plain text message.
func (b *Bot) SendMessage(text string) error {
	return b.send(text, false)
}

// SendAlert sends a formatted alert with bold title.
func (b *Bot) SendAlert(title, message string) error {
	formatted := fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(title), message)
	return b.send(formatted, true)
}

// NotifyStarted sends a notification that the service has started.
func (b *Bot) NotifyStarted(cities int, addr string) error {
	return b.SendAlert("Service Started",
		fmt.Sprintf("Tracking `%d` cities\nAPI: `%s`", cities, addr))
}

// NotifyStopped sends a notification that the service has stopped.
func (b *Bot) NotifyStopped() error {
	return b.SendAlert("Service Stopped", "polyweather has been shut down")
}

// NotifyError sends an error notification.
func (b *Bot) NotifyError(err error) error {
	return b.SendAlert("Error", fmt.Sprintf("`%s`", err.Error()))
}

// NotifyAnomaly reports a distribution that had to fall back to a best-effort
// answer.
func (b *Bot) NotifyAnomaly(s *engine.Settlement) error {
	d := s.Distribution
	fc := s.Forecast

	var title string
	switch {
	case d.FloorExhausted():
		title = "Observed Max Above Forecast Range"
	case d.LowConfidence():
		title = "Degenerate Ensemble Spread"
	default:
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "City: `%s` (%s)\n", fc.City, fc.Date)
	fmt.Fprintf(&sb, "Forecast μ: `%.1f°%s`\n", d.Mu, fc.Unit)
	if d.MaxSoFar != nil {
		fmt.Fprintf(&sb, "Observed max: `%.1f°%s`\n", *d.MaxSoFar, fc.Unit)
	}
	best := d.MostLikely()
	fmt.Fprintf(&sb, "Settles: `%d°%s` (%.0f%%)\n", best.Value, fc.Unit, best.Prob*100)
	fmt.Fprintf(&sb, "Flags: `%s`", strings.Join(d.Flags.Strings(), ", "))
	return b.SendAlert(title, sb.String())
}

// NotifyDistribution sends a forecast and its settlement distribution.
func (b *Bot) NotifyDistribution(s *engine.Settlement) error {
	return b.SendAlert(fmt.Sprintf("%s %s", s.Forecast.City, s.Forecast.Date), FormatSettlement(s, b.now()))
}

// NotifySweep summarizes a finalize/prune pass. Empty passes are skipped.
func (b *Bot) NotifySweep(res engine.SweepResult) error {
	if len(res.Finalized) == 0 && res.Pruned == 0 {
		return nil
	}
	cities := make([]string, 0, len(res.Finalized))
	for c := range res.Finalized {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	var sb strings.Builder
	for _, c := range cities {
		fmt.Fprintf(&sb, "`%s`: %d day(s) finalized\n", c, res.Finalized[c])
	}
	if res.Pruned > 0 {
		fmt.Fprintf(&sb, "Pruned `%s` old record(s)", humanize.Comma(res.Pruned))
	}
	return b.SendAlert("Daily Settlement", strings.TrimRight(sb.String(), "\n"))
}

// FormatSettlement renders a settlement as Markdown: the blended forecast,
// the weights and the buckets with at least 1% probability.
func FormatSettlement(s *engine.Settlement, now time.Time) string {
	fc := s.Forecast
	d := s.Distribution
	u := fc.Unit

	var sb strings.Builder
	fmt.Fprintf(&sb, "μ: `%.1f°%s`", fc.Mu, u)
	if fc.Corrected {
		fmt.Fprintf(&sb, " (raised from `%.1f`)", fc.ModelMu)
	}
	sb.WriteString("\n")
	if dist, near := weather.NearBoundary(fc.Mu); near {
		fmt.Fprintf(&sb, "⚠️ %.1f from the rounding edge\n", dist)
	}
	fmt.Fprintf(&sb, "Weights: %s\n", fc.WeightSet.Summary(3))
	fmt.Fprintf(&sb, "Consensus: `%s` (spread %.1f)\n", fc.Consensus.Level, fc.Consensus.Spread)
	if fc.MaxSoFar != nil {
		fmt.Fprintf(&sb, "Max so far: `%.1f°%s`, trend `%s`\n", *fc.MaxSoFar, u, fc.Trend)
	}
	fmt.Fprintf(&sb, "σ: `%.2f` (%s)\n", d.Sigma, d.Phase)
	if until := s.Peak.End.Sub(now); until > 0 && d.Phase != weather.AfterPeak {
		fmt.Fprintf(&sb, "Peak ends in %s\n", formatDuration(until))
	}
	sb.WriteString("\n")
	for _, bk := range d.Buckets {
		if bk.Prob < 0.01 {
			continue
		}
		fmt.Fprintf(&sb, "`%d°%s` %s %.0f%%\n", bk.Value, u, bar(bk.Prob), bk.Prob*100)
	}
	if !fc.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "\n_updated %s_", humanize.RelTime(fc.UpdatedAt, now, "ago", "from now"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func bar(p float64) string {
	n := int(p*20 + 0.5)
	return strings.Repeat("█", n)
}

// send handles the actual message sending with graceful error handling.
func (b *Bot) send(text string, useMarkdown bool) error {
	if b.disabled {
		log.Printf("[telegram] (disabled) %s", text)
		return nil
	}

	msg := tgbotapi.NewMessage(b.chatID, text)
	if useMarkdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}

	_, err := b.circuit.Execute(func() (interface{}, error) {
		return b.api.Send(msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Printf("[telegram] dropping message, circuit open")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		log.Printf("[telegram] failed to send message: %v", err)
		return fmt.Errorf("telegram send failed: %w", err)
	}

	return nil
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// escapeMarkdown escapes special Markdown characters in text.
func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "ended"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
