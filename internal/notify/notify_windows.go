//go:build windows

package notify

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
)

const toastScript = `param([string]$xml, [string]$app)
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
$doc.LoadXml($xml)
$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier($app).Show($toast)`

// toastNotifier shows toasts through PowerShell. Toast activation needs a
// registered COM server, so interactions are not reported back.
type toastNotifier struct {
	appName string
}

// New returns the Windows notifier.
func New(appName string) (Notifier, error) {
	if _, err := exec.LookPath("powershell"); err != nil {
		log.Warn("powershell not found, notifications disabled", "error", err)
		return NewStub(), nil //nolint:nilerr // graceful fallback
	}
	return &toastNotifier{appName: appName}, nil
}

func (n *toastNotifier) Show(ctx context.Context, notif Notification) (uint32, error) {
	// Pass XML as a parameter to avoid PowerShell interpolation entirely.
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", toastScript,
		"-xml", buildToastXML(notif), "-app", n.appName)
	if out, err := cmd.CombinedOutput(); err != nil {
		return 0, fmt.Errorf("powershell toast: %w: %s", err, out)
	}
	return 0, nil
}

func (n *toastNotifier) Available() bool {
	return true
}

func (n *toastNotifier) Close() error {
	return nil
}

func buildToastXML(notif Notification) string {
	var b strings.Builder
	b.WriteString(`<toast`)
	if notif.Urgency == UrgencyCritical {
		b.WriteString(` scenario="reminder"`)
	}
	b.WriteString(`><visual><binding template="ToastGeneric">`)
	b.WriteString(`<text>` + xmlEscape(notif.Title) + `</text>`)
	b.WriteString(`<text>` + xmlEscape(notif.Body) + `</text>`)
	if notif.Image != "" {
		u := url.URL{Scheme: "file", Path: "/" + filepath.ToSlash(notif.Image)}
		b.WriteString(`<image placement="appLogoOverride" hint-crop="circle" src="` + xmlEscape(u.String()) + `"/>`)
	}
	b.WriteString(`</binding></visual>`)
	if len(notif.Buttons) > 0 || notif.Reply != nil {
		b.WriteString(`<actions>`)
		if notif.Reply != nil {
			b.WriteString(`<input id="reply" type="text" placeHolderContent="` + xmlEscape(notif.Reply.Placeholder) + `"/>`)
		}
		for _, btn := range notif.Buttons {
			b.WriteString(`<action content="` + xmlEscape(btn.Label) + `" arguments="` + xmlEscape(btn.ID) + `"/>`)
		}
		b.WriteString(`</actions>`)
	}
	if notif.Sound == "" {
		b.WriteString(`<audio silent="true"/>`)
	} else {
		b.WriteString(`<audio src="ms-winsoundevent:Notification.IM"/>`)
	}
	b.WriteString(`</toast>`)
	return b.String()
}

// xmlEscape encodes a string so it is safe for embedding in XML text content.
func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return ""
	}
	return b.String()
}
