package notification

import (
	"context"
	"errors"
	"sync"

	"github.com/breeze-rmm/notify-bridge/internal/notify"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

type fakeOutbox struct {
	mu     sync.Mutex
	events []protocol.OutboundActionEvent
	err    error
}

func (o *fakeOutbox) Send(ev protocol.OutboundActionEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.events = append(o.events, ev)
	return nil
}

func (o *fakeOutbox) Events() []protocol.OutboundActionEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.OutboundActionEvent(nil), o.events...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []notify.Notification
	nextID uint32
	err    error
}

func (n *fakeNotifier) Show(_ context.Context, notif notify.Notification) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, n.err
	}
	n.nextID++
	n.shown = append(n.shown, notif)
	return n.nextID, nil
}

func (n *fakeNotifier) Available() bool { return true }
func (n *fakeNotifier) Close() error    { return nil }

func (n *fakeNotifier) last() notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shown[len(n.shown)-1]
}

var errBusGone = errors.New("bus gone")
