package notify

import "context"

// stubNotifier is used when no desktop notification service is reachable.
type stubNotifier struct{}

// NewStub returns a notifier that drops every notification and reports so
// with ErrUnavailable.
func NewStub() Notifier {
	return &stubNotifier{}
}

func (s *stubNotifier) Show(_ context.Context, _ Notification) (uint32, error) {
	return 0, ErrUnavailable
}

func (s *stubNotifier) Available() bool {
	return false
}

func (s *stubNotifier) Close() error {
	return nil
}
