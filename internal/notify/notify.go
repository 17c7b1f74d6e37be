// Package notify shows native desktop notifications and reports the user's
// interactions with them.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
)

var log = logging.L("notify")

// ErrUnavailable is returned by Show when there is no notification service
// to display anything.
var ErrUnavailable = errors.New("no desktop notification service")

// Urgency represents notification priority levels per freedesktop spec.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// DefaultSound is the freedesktop sound theme name for an incoming message.
const DefaultSound = "message-new-instant"

// CloseReason mirrors the reason codes of the NotificationClosed signal.
type CloseReason uint32

const (
	ClosedExpired   CloseReason = 1
	ClosedDismissed CloseReason = 2
	ClosedByCall    CloseReason = 3
	ClosedUndefined CloseReason = 4
)

func (r CloseReason) String() string {
	switch r {
	case ClosedExpired:
		return "expired"
	case ClosedDismissed:
		return "dismissed"
	case ClosedByCall:
		return "closed"
	default:
		return "undefined"
	}
}

// Button is an action button shown on the notification.
type Button struct {
	ID    string
	Label string
}

// ReplyField asks the server for an inline text reply.
type ReplyField struct {
	Placeholder string
	ButtonLabel string
}

// Handler receives the user's interaction with one notification. A notifier
// invokes at most one of Pressed, Replied or Clicked, then at most one Closed.
// Methods run on the notifier's signal goroutine and must not block.
type Handler interface {
	Pressed(buttonID string)
	Replied(text string)
	Clicked()
	Closed(reason CloseReason)
}

// Notification contains data for a desktop notification.
type Notification struct {
	Title   string        // Summary text (required)
	Body    string        // Body text (optional)
	Urgency Urgency       // Low, Normal, Critical
	Buttons []Button      // Action buttons
	Reply   *ReplyField   // Inline reply, if the server supports it
	Sound   string        // Sound theme name, empty for silent
	Timeout time.Duration // 0 = server default
	Image   string        // Path to a local image file (optional)
	Handler Handler       // Receives interactions, may be nil
}

// Notifier is the platform notification capability.
type Notifier interface {
	// Show posts the notification and returns once the server accepted it.
	// The returned ID is 0 on backends without server-assigned ids.
	Show(ctx context.Context, n Notification) (uint32, error)
	// Available reports whether notifications actually reach the desktop.
	Available() bool
	// Close releases the backend. Pending handlers receive Closed.
	Close() error
}

// timeoutMillis converts a display duration to the freedesktop
// expire_timeout argument, where -1 means "server default".
func timeoutMillis(d time.Duration) int32 {
	if d <= 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		return int32(^uint32(0) >> 1)
	}
	return int32(ms)
}
