package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/hub"
)

func TestFollowPrintsUntilTerminalStatus(t *testing.T) {
	h := hub.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	e := echo.New()
	s := hub.NewStreamer(h, hub.DefaultStreamConfig())
	e.GET("/v1/runs/:run_id/stream", func(c echo.Context) error {
		return s.Serve(c, c.Param("run_id"))
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	client, err := DialFeed(ctx, srv.URL, "run_7")
	require.NoError(t, err)
	defer client.Close()
	require.Eventually(t, func() bool { return h.Subscribers("run_7") == 1 }, 2*time.Second, 5*time.Millisecond)

	ev := domain.Event{RunID: "run_7", Type: domain.EventTypeClick, Label: "Clicked at (10, 20)"}
	require.NoError(t, h.Publish("run_7", domain.FeedMessage{Type: "event", RunID: "run_7", Progress: 30, Event: &ev}))
	require.NoError(t, h.Publish("run_7", domain.FeedMessage{Type: "status", RunID: "run_7", Progress: 100, Status: domain.RunStatusCompleted}))

	var out bytes.Buffer
	status, err := client.Follow(&out)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, status)
	assert.Contains(t, out.String(), "Clicked at (10, 20)")
	assert.Contains(t, out.String(), "status           completed")
}

func TestDialFeedRejectsBadAddress(t *testing.T) {
	_, err := DialFeed(context.Background(), "ws://127.0.0.1:1", "run_1")
	assert.Error(t, err)
}
