package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botminter/internal/server"
)

func startWebhook(t *testing.T, secret string, launch func(context.Context)) (*WebhookMode, string, chan error) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	w := &WebhookMode{
		Listener: ln,
		Secret:   secret,
		Shutdown: &Shutdown{},
		Launch:   launch,
		Log:      quietLogger(),
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	t.Cleanup(func() { w.Shutdown.Request() })
	return w, "http://" + ln.Addr().String(), done
}

func post(t *testing.T, url, event, sig, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if event != "" {
		req.Header.Set(server.EventHeader, event)
	}
	if sig != "" {
		req.Header.Set(server.SignatureHeader, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestWebhookModeLaunchesOnRelevantEvents(t *testing.T) {
	var launches atomic.Int32
	w, base, done := startWebhook(t, "s3cret", func(context.Context) { launches.Add(1) })

	body := `{"action":"opened"}`
	assert.Equal(t, http.StatusOK, post(t, base+"/webhook", "issues", Sign("s3cret", []byte(body)), body))
	assert.Equal(t, http.StatusOK, post(t, base+"/webhook", "push", Sign("s3cret", []byte(body)), body))
	assert.Equal(t, http.StatusForbidden, post(t, base+"/webhook", "issues", "sha256=00", body))
	assert.Equal(t, http.StatusForbidden, post(t, base+"/webhook", "issues", "", body))

	resp, err := http.Get(base + "/webhook")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.True(t, waitUntil(3*time.Second, 20*time.Millisecond, func() bool { return launches.Load() == 1 }))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), launches.Load())

	w.Shutdown.Request()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook mode did not stop")
	}
}

func TestWebhookModeSerializesLaunches(t *testing.T) {
	var running, maxRunning, launches atomic.Int32
	launch := func(context.Context) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		running.Add(-1)
		launches.Add(1)
	}
	_, base, _ := startWebhook(t, "", launch)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(t, base+"/webhook", "pull_request", "", "{}"))
	}
	require.True(t, waitUntil(5*time.Second, 20*time.Millisecond, func() bool { return launches.Load() == 3 }))
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestEventQueueKeepsBacklogInOrder(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 200; i++ {
		q.push(fmt.Sprint(i))
	}
	assert.Equal(t, 200, q.Len())
	for i := 0; i < 200; i++ {
		ev, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), ev)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestWebhookModeQueuesBacklogDuringLaunch(t *testing.T) {
	release := make(chan struct{})
	var launches atomic.Int32
	launch := func(context.Context) {
		if launches.Add(1) == 1 {
			<-release
		}
	}
	_, base, _ := startWebhook(t, "", launch)

	assert.Equal(t, http.StatusOK, post(t, base+"/webhook", "issues", "", "{}"))
	require.True(t, waitUntil(3*time.Second, 10*time.Millisecond, func() bool { return launches.Load() == 1 }))
	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, post(t, base+"/webhook", "issue_comment", "", "{}"))
	}
	close(release)
	require.True(t, waitUntil(5*time.Second, 20*time.Millisecond, func() bool { return launches.Load() == 101 }))
}

func TestWebhookModeBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	w := &WebhookMode{Addr: ln.Addr().String(), Shutdown: &Shutdown{}, Log: quietLogger()}
	assert.Error(t, w.Run(context.Background()))
}
