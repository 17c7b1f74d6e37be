package bridge

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"

	"github.com/breeze-rmm/notify-bridge/internal/notify"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

// shown is a notification as the fake notifier saw it, with the image
// contents read at display time.
type shown struct {
	notify.Notification
	image []byte
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []shown
	nextID uint32
	notify chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notify: make(chan struct{}, 64)}
}

func (n *fakeNotifier) Show(_ context.Context, notif notify.Notification) (uint32, error) {
	var data []byte
	if notif.Image != "" {
		data, _ = os.ReadFile(notif.Image)
	}
	n.mu.Lock()
	n.nextID++
	n.shown = append(n.shown, shown{Notification: notif, image: data})
	id := n.nextID
	n.mu.Unlock()
	n.notify <- struct{}{}
	return id, nil
}

func (n *fakeNotifier) Available() bool { return true }
func (n *fakeNotifier) Close() error    { return nil }

func (n *fakeNotifier) all() []shown {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]shown(nil), n.shown...)
}

func (n *fakeNotifier) byTitle(title string) (shown, bool) {
	for _, s := range n.all() {
		if s.Title == title {
			return s, true
		}
	}
	return shown{}, false
}

var errUnreachable = errors.New("cdn unreachable")

// fakeFetcher serves fixed bytes per URL. A URL listed in gates blocks until
// its channel is closed.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	gates map[string]chan struct{}
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[url]
	data, ok := f.data[url]
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errUnreachable
	}
	return data, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []protocol.OutboundActionEvent
}

func (o *fakeOutbox) Send(ev protocol.OutboundActionEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
