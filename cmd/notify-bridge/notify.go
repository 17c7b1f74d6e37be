package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/notify-bridge/internal/notification"
	"github.com/breeze-rmm/notify-bridge/internal/notify"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

var (
	testTitle      string
	testBody       string
	testAvatar     string
	testAttachment string
	testWait       time.Duration
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Show a test notification and print the resulting action",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendTestNotification()
	},
}

func init() {
	notifyCmd.Flags().StringVar(&testTitle, "title", "notify-bridge", "notification title")
	notifyCmd.Flags().StringVar(&testBody, "body", "This is a test notification.", "notification body")
	notifyCmd.Flags().StringVar(&testAvatar, "avatar-url", "", "profile image URL")
	notifyCmd.Flags().StringVar(&testAttachment, "attachment-url", "", "attachment image URL")
	notifyCmd.Flags().DurationVar(&testWait, "wait", 30*time.Second, "how long to wait for an action")
	rootCmd.AddCommand(notifyCmd)
}

// stdoutOutbox prints action events as JSON lines and signals the first one.
type stdoutOutbox struct {
	once sync.Once
	done chan struct{}
}

func (o *stdoutOutbox) Send(ev protocol.OutboundActionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	o.once.Do(func() { close(o.done) })
	return nil
}

func sendTestNotification() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	notifier, err := notify.New(cfg.AppName)
	if err != nil {
		return err
	}
	defer notifier.Close()
	if !notifier.Available() {
		fmt.Fprintln(os.Stderr, "Warning: no desktop notification service found")
	}

	svc, err := newService(cfg, notifier, nil)
	if err != nil {
		return err
	}
	defer svc.Shutdown(context.Background())

	out := &stdoutOutbox{done: make(chan struct{})}
	req := protocol.NotificationRequest{
		Title:         testTitle,
		Body:          testBody,
		ChannelID:     protocol.DefaultID,
		MessageID:     protocol.DefaultID,
		GuildID:       protocol.DefaultID,
		AvatarURL:     testAvatar,
		AttachmentURL: testAttachment,
	}
	if err := svc.Handle(context.Background(), req, notification.NewRouter(out, nil)); err != nil {
		return err
	}

	select {
	case <-out.done:
	case <-time.After(testWait):
		fmt.Fprintln(os.Stderr, "No action before timeout")
	}
	return nil
}
