//go:build darwin

package notify

import (
	"context"
	"fmt"
	"os/exec"
)

// osascriptNotifier posts notifications through Notification Center via
// osascript. It cannot observe clicks, buttons or replies, so handlers only
// ever receive Closed on shutdown.
type osascriptNotifier struct {
	appName string
}

// New returns the macOS notifier.
func New(appName string) (Notifier, error) {
	if _, err := exec.LookPath("osascript"); err != nil {
		log.Warn("osascript not found, notifications disabled", "error", err)
		return NewStub(), nil //nolint:nilerr // graceful fallback
	}
	return &osascriptNotifier{appName: appName}, nil
}

func (n *osascriptNotifier) Show(ctx context.Context, notif Notification) (uint32, error) {
	script := `display notification "` + escapeAppleScript(notif.Body) +
		`" with title "` + escapeAppleScript(n.appName) +
		`" subtitle "` + escapeAppleScript(notif.Title) + `"`
	if notif.Sound != "" {
		script += ` sound name "Ping"`
	}

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return 0, fmt.Errorf("osascript: %w: %s", err, out)
	}
	return 0, nil
}

func (n *osascriptNotifier) Available() bool {
	return true
}

func (n *osascriptNotifier) Close() error {
	return nil
}

// escapeAppleScript escapes a string for safe embedding in an AppleScript
// double-quoted string. Handles quotes, backslashes, and control characters
// that could break out of the string context.
func escapeAppleScript(s string) string {
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			result = append(result, '\\', '"')
		case ch == '\\':
			result = append(result, '\\', '\\')
		case ch == '\n':
			result = append(result, '\\', 'n')
		case ch == '\r':
			result = append(result, '\\', 'r')
		case ch == '\t':
			result = append(result, '\\', 't')
		case ch < 0x20 || ch == 0x7f:
			continue
		default:
			result = append(result, ch)
		}
	}
	return string(result)
}
