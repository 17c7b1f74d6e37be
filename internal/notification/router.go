// Package notification turns a parsed request into a desktop notification
// and routes the user's response back to the originating connection.
package notification

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
	"github.com/breeze-rmm/notify-bridge/internal/metrics"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

var log = logging.L("notification")

var (
	// ErrDispatchFailed means the OS refused or could not show a notification.
	ErrDispatchFailed = errors.New("notification dispatch failed")
	// ErrOutboundWrite means an action event could not be handed to its connection.
	ErrOutboundWrite = errors.New("outbound write failed")
)

// Outbox is the owning connection's single outbound write path. Send must be
// safe to call from any goroutine and must not block.
type Outbox interface {
	Send(ev protocol.OutboundActionEvent) error
}

// Router hands action events from notifier callbacks to one connection.
type Router struct {
	out    Outbox
	logger *slog.Logger
}

// NewRouter returns a router writing to out.
func NewRouter(out Outbox, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log
	}
	return &Router{out: out, logger: logger}
}

// Route merges kind and cc into payload and queues the event. Failures are
// logged and the event is discarded.
func (r *Router) Route(kind protocol.Action, cc protocol.CorrelationContext, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := protocol.OutboundActionEvent{Action: kind, Correlation: cc, Payload: payload}

	logger := logging.WithCorrelation(r.logger, cc.ChannelID, cc.MessageID, cc.GuildID).
		With(slog.String(logging.KeyAction, string(kind)))

	if err := r.out.Send(ev); err != nil {
		metrics.ActionsRouted.WithLabelValues(string(kind), "dropped").Inc()
		logger.Warn("discarding action event", logging.KeyError, err)
		return fmt.Errorf("%w: %w", ErrOutboundWrite, err)
	}
	metrics.ActionsRouted.WithLabelValues(string(kind), "sent").Inc()
	logger.Info("action routed")
	return nil
}
