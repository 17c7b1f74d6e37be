package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/breeze-rmm/notify-bridge/internal/attachment"
	"github.com/breeze-rmm/notify-bridge/internal/metrics"
	"github.com/breeze-rmm/notify-bridge/internal/notify"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

// Labels shown on the notification.
const (
	ReadButtonID     = "read"
	ReadButtonLabel  = "Mark as read"
	ReplyPlaceholder = "Reply"
	ReplyButtonLabel = "Send"
)

// Dispatcher shows one notification per request through the OS capability.
type Dispatcher struct {
	notifier notify.Notifier
	live     *liveSet
}

// NewDispatcher wraps notifier.
func NewDispatcher(notifier notify.Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier, live: newLiveSet()}
}

// Dispatch shows req with its staged image and registers callbacks bound to
// req's correlation context. It returns once the notification is posted.
// Ownership of staged passes to the dispatcher: it is released when the
// notification ends, or immediately if it could not be shown.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.NotificationRequest, staged *attachment.Staged, router *Router, logger *slog.Logger) error {
	if logger == nil {
		logger = log
	}
	timeout := EstimateDuration(req.Title, req.Body)

	cb := &callbacks{
		cc:      req.Correlation(),
		body:    req.Body,
		router:  router,
		staged:  staged,
		logger:  logger,
		release: d.live.remove,
	}

	// Tracked before Show so a callback racing the return still finds it.
	d.live.add(cb)
	id, err := d.notifier.Show(ctx, notify.Notification{
		Title:   req.Title,
		Body:    req.Body,
		Urgency: notify.UrgencyCritical,
		Buttons: []notify.Button{{ID: ReadButtonID, Label: ReadButtonLabel}},
		Reply:   &notify.ReplyField{Placeholder: ReplyPlaceholder, ButtonLabel: ReplyButtonLabel},
		Sound:   notify.DefaultSound,
		Timeout: timeout,
		Image:   staged.ImagePath(),
		Handler: cb,
	})
	if err != nil {
		cb.finish()
		metrics.NotificationFailures.WithLabelValues(metrics.StageDispatch).Inc()
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	if id == 0 {
		// Backends without ids never call back; nothing else would release the image.
		cb.finish()
	}

	metrics.NotificationsShown.Inc()
	logger.Info("notification shown", "notificationId", id, "timeout", timeout, "image", staged.ImagePath() != "")
	return nil
}

// Close releases the staged images of notifications that are still live.
func (d *Dispatcher) Close() {
	d.live.finishAll()
}

// callbacks carries one notification's correlation context into the
// notifier. It is the notify.Handler registered for that notification.
type callbacks struct {
	cc     protocol.CorrelationContext
	body   string
	router *Router
	staged *attachment.Staged
	logger *slog.Logger

	release func(*callbacks)
	once    sync.Once
}

func (c *callbacks) Pressed(buttonID string) {
	if buttonID == ReadButtonID {
		c.router.Route(protocol.ActionRead, c.cc, map[string]any{protocol.FieldBody: c.body})
	} else {
		c.logger.Debug("ignoring unknown button", "button", buttonID)
	}
	c.finish()
}

func (c *callbacks) Replied(text string) {
	c.router.Route(protocol.ActionReply, c.cc, map[string]any{protocol.FieldText: text})
	c.finish()
}

func (c *callbacks) Clicked() {
	c.router.Route(protocol.ActionClick, c.cc, map[string]any{})
	c.finish()
}

func (c *callbacks) Closed(reason notify.CloseReason) {
	c.logger.Debug("notification closed", "reason", reason.String())
	c.finish()
}

// finish ends the notification's lifetime: the image is discarded and the
// entry leaves the live set.
func (c *callbacks) finish() {
	c.once.Do(func() {
		c.staged.Release()
		if c.release != nil {
			c.release(c)
		}
	})
}

// liveSet tracks callbacks whose notification is still on screen.
type liveSet struct {
	mu  sync.Mutex
	set map[*callbacks]struct{}
}

func newLiveSet() *liveSet {
	return &liveSet{set: make(map[*callbacks]struct{})}
}

func (l *liveSet) add(c *callbacks) {
	l.mu.Lock()
	l.set[c] = struct{}{}
	l.mu.Unlock()
	metrics.NotificationsLive.Inc()
}

func (l *liveSet) remove(c *callbacks) {
	l.mu.Lock()
	_, ok := l.set[c]
	delete(l.set, c)
	l.mu.Unlock()
	if ok {
		metrics.NotificationsLive.Dec()
	}
}

func (l *liveSet) finishAll() {
	l.mu.Lock()
	all := make([]*callbacks, 0, len(l.set))
	for c := range l.set {
		all = append(all, c)
	}
	l.mu.Unlock()
	for _, c := range all {
		c.finish()
	}
}

func (l *liveSet) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.set)
}

var _ notify.Handler = (*callbacks)(nil)
