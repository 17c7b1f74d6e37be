//go:build linux

package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	dbusNotifyDest      = "org.freedesktop.Notifications"
	dbusNotifyPath      = "/org/freedesktop/Notifications"
	dbusNotifyInterface = "org.freedesktop.Notifications"

	signalActionInvoked      = dbusNotifyInterface + ".ActionInvoked"
	signalNotificationClosed = dbusNotifyInterface + ".NotificationClosed"
	signalNotificationReply  = dbusNotifyInterface + ".NotificationReplied"
)

// dbusNotifier sends notifications via D-Bus and listens for the server's
// interaction signals.
type dbusNotifier struct {
	conn      *dbus.Conn
	obj       dbus.BusObject
	appName   string
	caps      map[string]bool
	reachable bool // a server answered GetCapabilities

	// showMu orders signal delivery after handler registration, so a signal
	// for a fresh id is never seen before its handler is tracked.
	showMu  sync.Mutex
	tracker *tracker

	signals   chan *dbus.Signal
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Notifier that sends desktop notifications via D-Bus.
// Returns a no-op notifier if D-Bus is unavailable.
func New(appName string) (Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Warn("session bus unavailable, notifications disabled", "error", err)
		return NewStub(), nil //nolint:nilerr // graceful fallback when D-Bus unavailable
	}

	n := &dbusNotifier{
		conn:    conn,
		obj:     conn.Object(dbusNotifyDest, dbusNotifyPath),
		appName: appName,
		caps:    make(map[string]bool),
		tracker: newTracker(),
		signals: make(chan *dbus.Signal, 64),
		done:    make(chan struct{}),
	}

	var caps []string
	if err := n.obj.Call(dbusNotifyInterface+".GetCapabilities", 0).Store(&caps); err != nil {
		log.Warn("could not query notification server capabilities", "error", err)
	} else {
		n.reachable = true
	}
	for _, c := range caps {
		n.caps[c] = true
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbusNotifyPath),
		dbus.WithMatchInterface(dbusNotifyInterface),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to notification signals: %w", err)
	}
	conn.Signal(n.signals)

	n.wg.Add(1)
	go n.signalLoop()

	log.Info("connected to notification server",
		"actions", n.caps["actions"],
		"inlineReply", n.caps[ActionInlineReply],
		"sound", n.caps["sound"],
	)
	return n, nil
}

// Show sends a notification via D-Bus.
func (n *dbusNotifier) Show(ctx context.Context, notif Notification) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(byte(notif.Urgency)),
		"desktop-entry": dbus.MakeVariant(strings.ToLower(n.appName)),
	}
	if notif.Sound != "" {
		hints["sound-name"] = dbus.MakeVariant(notif.Sound)
	}
	if notif.Image != "" {
		u := url.URL{Scheme: "file", Path: notif.Image}
		hints["image-path"] = dbus.MakeVariant(u.String())
	}

	// Actions are flat (key, label) pairs; "default" is the body click.
	actions := []string{ActionDefault, ""}
	for _, b := range notif.Buttons {
		actions = append(actions, b.ID, b.Label)
	}
	if notif.Reply != nil && n.caps[ActionInlineReply] {
		actions = append(actions, ActionInlineReply, notif.Reply.ButtonLabel)
		hints["x-kde-reply-placeholder-text"] = dbus.MakeVariant(notif.Reply.Placeholder)
		hints["x-kde-reply-submit-button-text"] = dbus.MakeVariant(notif.Reply.ButtonLabel)
	}

	n.showMu.Lock()
	defer n.showMu.Unlock()

	// D-Bus Notify method signature:
	// Notify(app_name, replaces_id, icon, summary, body, actions, hints, timeout) -> id
	call := n.obj.CallWithContext(ctx,
		dbusNotifyInterface+".Notify",
		0,
		n.appName,
		uint32(0),
		"",
		notif.Title,
		notif.Body,
		actions,
		hints,
		timeoutMillis(notif.Timeout),
	)
	if call.Err != nil {
		return 0, call.Err
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, err
	}
	n.tracker.add(id, notif.Handler)
	return id, nil
}

func (n *dbusNotifier) Available() bool {
	return n.reachable
}

// Close stops signal delivery and drops the bus connection.
func (n *dbusNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		n.conn.RemoveSignal(n.signals)
		n.wg.Wait()
		n.tracker.closeAll()
		err = n.conn.Close()
	})
	return err
}

func (n *dbusNotifier) signalLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case sig, ok := <-n.signals:
			if !ok {
				return
			}
			n.showMu.Lock()
			//nolint:staticcheck // empty critical section is a barrier against Show
			n.showMu.Unlock()
			n.handleSignal(sig)
		}
	}
}

func (n *dbusNotifier) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 2 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	switch sig.Name {
	case signalActionInvoked:
		key, _ := sig.Body[1].(string)
		if key == ActionInlineReply {
			// KDE sends the text separately in NotificationReplied.
			return
		}
		n.tracker.action(id, key)
	case signalNotificationReply:
		text, _ := sig.Body[1].(string)
		n.tracker.replied(id, text)
	case signalNotificationClosed:
		reason, _ := sig.Body[1].(uint32)
		n.tracker.closed(id, CloseReason(reason))
	}
}
