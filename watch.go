package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

var watchAddr string

// watchCmd follows the live feed of one run.
var watchCmd = &cobra.Command{
	Use:   "watch <run_id>",
	Short: "Follow a run's live feed until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "ws://localhost:8080", "server address")
	rootCmd.AddCommand(watchCmd)
}

// FeedClient reads feed messages from the stream endpoint.
type FeedClient struct {
	conn *websocket.Conn
}

// DialFeed connects to the stream of runID on the server at addr.
func DialFeed(ctx context.Context, addr, runID string) (*FeedClient, error) {
	u, err := url.Parse(strings.TrimSuffix(addr, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/v1/runs/" + url.PathEscape(runID) + "/stream"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &FeedClient{conn: conn}, nil
}

// Next blocks until the next feed message arrives.
func (c *FeedClient) Next() (*domain.FeedMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg domain.FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal feed message: %w", err)
	}
	return &msg, nil
}

// Close sends a close frame and closes the connection.
func (c *FeedClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Follow prints messages to w until the run reaches a terminal status or the
// connection ends.
func (c *FeedClient) Follow(w io.Writer) (domain.RunStatus, error) {
	for {
		msg, err := c.Next()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", nil
			}
			return "", err
		}
		printFeed(w, msg)
		if msg.Type == "status" && msg.Status.IsTerminal() {
			return msg.Status, nil
		}
	}
}

func printFeed(w io.Writer, msg *domain.FeedMessage) {
	switch msg.Type {
	case "event":
		if msg.Event != nil {
			fmt.Fprintf(w, "[%3d%%] %-16s %s\n", msg.Progress, msg.Event.Type, msg.Event.Label)
		}
	case "status":
		fmt.Fprintf(w, "[%3d%%] status           %s\n", msg.Progress, msg.Status)
	case "progress":
		fmt.Fprintf(w, "[%3d%%]\n", msg.Progress)
	default:
		if msg.Log != "" {
			fmt.Fprintf(w, "       %s\n", msg.Log)
		}
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := DialFeed(cmd.Context(), watchAddr, args[0])
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Follow(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	if status == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "stream closed")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", args[0], status)
	return nil
}
