// Package bridge wires the notification pipeline: parse the request, stage
// its image, show it, and route the user's actions back to the client.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/notify-bridge/internal/attachment"
	"github.com/breeze-rmm/notify-bridge/internal/health"
	"github.com/breeze-rmm/notify-bridge/internal/logging"
	"github.com/breeze-rmm/notify-bridge/internal/metrics"
	"github.com/breeze-rmm/notify-bridge/internal/notification"
	"github.com/breeze-rmm/notify-bridge/internal/notify"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
	"github.com/breeze-rmm/notify-bridge/internal/websocket"
	"github.com/breeze-rmm/notify-bridge/internal/workerpool"
)

var log = logging.L("bridge")

// ErrAborted is returned by Handle when an image could not be fetched and
// the failure policy is Abort.
var ErrAborted = errors.New("notification aborted")

// FailurePolicy decides what happens when an image cannot be fetched.
type FailurePolicy string

const (
	// Degrade shows the notification without an image.
	Degrade FailurePolicy = "degrade"
	// Abort drops the message.
	Abort FailurePolicy = "abort"
)

// Fetch outcome labels for metrics.AttachmentFetchSeconds.
const (
	fetchOK    = "ok"
	fetchError = "error"
)

// Options configures a Service.
type Options struct {
	Attachments   attachment.Options
	OnFetchFailed FailurePolicy
	Workers       int
	QueueSize     int
}

// Service is the daemon's notification pipeline. It implements
// websocket.MessageHandler.
type Service struct {
	policy     FailurePolicy
	resolver   *attachment.Resolver
	dispatcher *notification.Dispatcher
	pool       *workerpool.Pool
	monitor    *health.Monitor

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane keeps one connection's notifications in arrival order. Images are
// fetched concurrently; each dispatch waits for its predecessor's.
type lane struct {
	tail chan struct{}
}

// next returns the turn to wait for and the turn to signal when done.
func (l *lane) next() (prev <-chan struct{}, done chan struct{}) {
	prev, done = l.tail, make(chan struct{})
	l.tail = done
	return prev, done
}

// New builds the pipeline around notifier and fetcher. monitor may be nil.
func New(opts Options, notifier notify.Notifier, fetcher attachment.Fetcher, monitor *health.Monitor) (*Service, error) {
	resolver, err := attachment.NewResolver(fetcher, opts.Attachments)
	if err != nil {
		return nil, fmt.Errorf("attachment resolver: %w", err)
	}

	policy := opts.OnFetchFailed
	switch policy {
	case "":
		policy = Degrade
	case Degrade, Abort:
	default:
		return nil, fmt.Errorf("unknown failure policy %q", policy)
	}

	s := &Service{
		policy:     policy,
		resolver:   resolver,
		dispatcher: notification.NewDispatcher(notifier),
		pool:       workerpool.New(opts.Workers, opts.QueueSize),
		monitor:    monitor,
		lanes:      make(map[string]*lane),
	}

	if notifier.Available() {
		s.setHealth(health.ComponentNotifier, health.Healthy, "")
	} else {
		s.setHealth(health.ComponentNotifier, health.Degraded, "no desktop notification service")
	}
	s.setHealth(health.ComponentPipeline, health.Healthy, "")
	return s, nil
}

// HandleMessage parses data on the connection's read loop and queues the
// rest of the pipeline. A malformed message is logged and skipped; the
// connection stays open. Notifications from one connection are shown in
// the order they arrived.
func (s *Service) HandleMessage(ctx context.Context, data []byte, conn *websocket.Conn) {
	logger := logging.WithConn(log, conn.ID())

	req, err := protocol.Parse(data)
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(metrics.StageParse).Inc()
		logger.Warn("skipping message", logging.KeyError, err, "size", len(data))
		return
	}
	logger = logging.WithCorrelation(logger, req.ChannelID, req.MessageID, req.GuildID)
	logger.Debug("notification request received", "title", req.Title)

	router := notification.NewRouter(conn, logger)
	prev, done := s.laneFor(conn).next()
	ok := s.pool.Submit(func() {
		defer close(done)
		if err := s.run(ctx, req, router, logger, prev); err != nil {
			s.logNotShown(logger, err)
		}
	})
	if !ok {
		close(done)
		metrics.NotificationFailures.WithLabelValues(metrics.StageQueue).Inc()
		s.setHealth(health.ComponentPipeline, health.Degraded, "queue full")
		logger.Warn("dropping notification, pipeline queue full")
	}
}

// laneFor returns conn's lane, creating it on first use. The lane is
// forgotten when the connection ends.
func (s *Service) laneFor(conn *websocket.Conn) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := conn.ID()
	if l, ok := s.lanes[id]; ok {
		return l
	}
	first := make(chan struct{})
	close(first)
	l := &lane{tail: first}
	s.lanes[id] = l
	context.AfterFunc(conn.Context(), func() {
		s.mu.Lock()
		delete(s.lanes, id)
		s.mu.Unlock()
	})
	return l
}

// Handle runs the pipeline synchronously for one request, routing actions
// through router.
func (s *Service) Handle(ctx context.Context, req protocol.NotificationRequest, router *notification.Router) error {
	logger := logging.WithCorrelation(log, req.ChannelID, req.MessageID, req.GuildID)
	return s.run(ctx, req, router, logger, nil)
}

// run resolves the image, waits for prev (nil means no predecessor) and
// dispatches.
func (s *Service) run(ctx context.Context, req protocol.NotificationRequest, router *notification.Router, logger *slog.Logger, prev <-chan struct{}) error {
	// The task outlives neither its connection nor the pool.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.pool.Context(), cancel)
	defer stop()

	staged, err := s.resolve(ctx, req, logger)
	if err != nil {
		return err
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
		}
	}

	if err := ctx.Err(); err != nil {
		staged.Release()
		logger.Debug("connection gone before dispatch")
		return err
	}

	if err := s.dispatcher.Dispatch(ctx, req, staged, router, logger); err != nil {
		return err
	}
	s.setHealth(health.ComponentPipeline, health.Healthy, "")
	return nil
}

func (s *Service) logNotShown(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, notify.ErrUnavailable):
		logger.Debug("notification dropped, no notification service")
	case errors.Is(err, context.Canceled):
		logger.Debug("notification cancelled", logging.KeyError, err)
	default:
		logger.Warn("notification not shown", logging.KeyError, err)
	}
}

func (s *Service) resolve(ctx context.Context, req protocol.NotificationRequest, logger *slog.Logger) (*attachment.Staged, error) {
	url, _ := req.ImageURL()
	if url == "" {
		return nil, nil
	}

	start := time.Now()
	staged, err := s.resolver.Resolve(ctx, req)
	elapsed := time.Since(start)
	if err == nil {
		metrics.AttachmentFetchSeconds.WithLabelValues(fetchOK).Observe(elapsed.Seconds())
		logger.Debug("image staged", "kind", staged.Kind, logging.KeyDurationMs, elapsed.Milliseconds())
		return staged, nil
	}

	metrics.AttachmentFetchSeconds.WithLabelValues(fetchError).Observe(elapsed.Seconds())
	metrics.NotificationFailures.WithLabelValues(metrics.StageFetch).Inc()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if s.policy == Abort {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	logger.Warn("showing notification without image", logging.KeyError, err)
	return nil, nil
}

// Shutdown stops accepting messages, waits for queued work up to ctx's
// deadline, and releases the images of notifications still on screen.
func (s *Service) Shutdown(ctx context.Context) {
	s.pool.Shutdown(ctx)
	s.dispatcher.Close()
	log.Info("pipeline stopped")
}

func (s *Service) setHealth(component string, status health.Status, msg string) {
	if s.monitor != nil {
		s.monitor.Update(component, status, msg)
	}
}
