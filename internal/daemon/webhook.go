package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/botminter/internal/metrics"
	"github.com/loykin/botminter/internal/server"
)

// eventQueue is an unbounded FIFO of relevant deliveries. Deliveries that
// arrive during a launch wait here and each runs its own launch afterwards.
type eventQueue struct {
	mu    sync.Mutex
	items []string
	ready chan struct{}
}

func newEventQueue() *eventQueue { return &eventQueue{ready: make(chan struct{}, 1)} }

func (q *eventQueue) push(ev string) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	ev := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WebhookMode serves POST /webhook and runs one launch at a time for the
// relevant deliveries.
type WebhookMode struct {
	Addr      string
	Listener  net.Listener // optional; bound from Addr when nil
	Secret    string
	Shutdown  *Shutdown
	Launch    func(ctx context.Context)
	Log       *slog.Logger
}

// Run blocks until shutdown. In-flight responses complete before it returns.
func (w *WebhookMode) Run(ctx context.Context) error {
	log := w.Log
	if log == nil {
		log = slog.Default()
	}
	queue := newEventQueue()

	dispatch := func(eventType string) {
		relevant := IsRelevant(eventType)
		metrics.IncEvent(ModeWebhook, relevant)
		if !relevant {
			log.Debug("ignoring irrelevant event", "event", eventType)
			return
		}
		queue.push(eventType)
	}
	router := server.NewWebhookRouter(w.Secret, VerifySignature, dispatch)
	srv := server.NewServer(w.Addr, router.Handler())

	ln := w.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", w.Addr); err != nil {
			return err
		}
	}
	log.Info("webhook server listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
loop:
	for !w.Shutdown.Requested() {
		select {
		case <-queue.ready:
			for !w.Shutdown.Requested() {
				ev, ok := queue.pop()
				if !ok {
					break
				}
				log.Info("received relevant event", "event", ev, "pending", queue.Len())
				w.Launch(ctx)
			}
		case err, ok := <-serveErr:
			if ok {
				runErr = err
			}
			break loop
		case <-time.After(time.Second):
		}
	}
	log.Info("stopping webhook server")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
