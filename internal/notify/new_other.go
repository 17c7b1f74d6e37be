//go:build !linux && !darwin && !windows

package notify

// New returns a no-op notifier on platforms without a supported backend.
func New(_ string) (Notifier, error) {
	log.Warn("desktop notifications are not supported on this platform")
	return NewStub(), nil
}
