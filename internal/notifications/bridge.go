package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/events"
	"github.com/felipepmaragno/llm-gateway/internal/ledger"
)

const sendTimeout = 5 * time.Second

// EventHandler forwards circuit transitions from the event bus to the
// notifier. Send failures are logged and dropped.
func EventHandler(notifier Notifier) events.Handler {
	return func(e events.Event) {
		var n Notification
		switch e.Type {
		case events.CircuitOpened:
			n = Notification{
				Type:     NotificationProviderDown,
				Provider: e.Provider,
				Message:  fmt.Sprintf("circuit opened for provider %s", e.Provider),
			}
		case events.CircuitClosed:
			n = Notification{
				Type:     NotificationProviderUp,
				Provider: e.Provider,
				Message:  fmt.Sprintf("circuit closed for provider %s", e.Provider),
			}
		default:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := notifier.Send(ctx, n); err != nil {
			slog.Warn("failed to send notification", "type", n.Type, "error", err)
		}
	}
}

// AlertHandler forwards budget alerts from the ledger monitor to the
// notifier.
func AlertHandler(notifier Notifier) ledger.AlertHandler {
	return func(alert ledger.Alert) {
		var typ NotificationType
		switch alert.Level {
		case ledger.AlertLevelExceeded:
			typ = NotificationBudgetExceeded
		case ledger.AlertLevelCritical:
			typ = NotificationBudgetCritical
		default:
			typ = NotificationBudgetWarning
		}

		n := Notification{
			Type:      typ,
			Principal: alert.Principal,
			Message:   fmt.Sprintf("principal %s at %.1f%% of budget", alert.Principal, alert.Percentage),
			Data: map[string]interface{}{
				"limit_usd": alert.LimitUSD,
				"spent_usd": alert.SpentUSD,
			},
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := notifier.Send(ctx, n); err != nil {
			slog.Warn("failed to send budget notification", "principal", alert.Principal, "error", err)
		}
	}
}
