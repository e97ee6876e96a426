package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solturn/yieldbridge/internal/domain"
)

// positionsChannel is the pub/sub channel the orchestrator publishes position
// lifecycle events on.
const positionsChannel = "positions"

// positionEvent mirrors the payload shape published by the orchestrator.
type positionEvent struct {
	Event      string  `json:"event"`
	PositionID string  `json:"position_id"`
	Owner      string  `json:"owner"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	Amount     float64 `json:"deposited_amount,omitempty"`
	Bridged    float64 `json:"bridged_amount,omitempty"`
}

// Listener subscribes to position lifecycle events and forwards them to the
// Notifier. Event filtering happens inside the Notifier, so the listener
// forwards everything it can decode.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener bridging the signal bus to the notifier.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes position events until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	msgCh, err := l.bus.Subscribe(ctx, positionsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", positionsChannel, err)
	}

	l.logger.InfoContext(ctx, "listening for position events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("notify: subscription to %s closed", positionsChannel)
			}
			l.handle(ctx, data)
		}
	}
}

func (l *Listener) handle(ctx context.Context, data []byte) {
	var evt positionEvent
	if err := json.Unmarshal(data, &evt); err != nil || evt.Event == "" {
		return
	}

	title, message := formatEvent(evt)
	if err := l.notifier.Notify(ctx, evt.Event, title, message); err != nil {
		l.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", evt.Event),
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders a short human-readable title and body for an event.
func formatEvent(evt positionEvent) (string, string) {
	title := "Position " + strings.ReplaceAll(strings.TrimPrefix(evt.Event, "position_"), "_", " ")

	var b strings.Builder
	fmt.Fprintf(&b, "Position %s (%s)\nStatus: %s", evt.PositionID, shortAddr(evt.Owner), evt.Status)
	if evt.Amount > 0 {
		fmt.Fprintf(&b, "\nDeposited: %.8f ZEC", evt.Amount)
	}
	if evt.Bridged > 0 {
		fmt.Fprintf(&b, "\nBridged: %.8f zZEC", evt.Bridged)
	}
	if evt.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", evt.Reason)
	}
	return title, b.String()
}

// shortAddr truncates an address for display.
func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-4:]
}
