// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/scan_capture/internal/controller"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocket message types
type WSMessage struct {
	Action     string `json:"action"` // snapshot, start, capture, finish, reconstruct, retry, reset, abort, mode
	Mode       string `json:"mode,omitempty"`
	IntervalMS int    `json:"interval_ms,omitempty"`
}

type WSResponse struct {
	Type         string                   `json:"type"` // snapshot, notification, result, error
	Action       string                   `json:"action,omitempty"`
	Snapshot     *controller.Snapshot     `json:"snapshot,omitempty"`
	Notification *controller.Notification `json:"notification,omitempty"`
	Result       interface{}              `json:"result,omitempty"`
	Message      string                   `json:"message,omitempty"`
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// wsClient serializes writes; gorilla connections allow one concurrent writer.
type wsClient struct {
	conn jsonWriter
	mu   sync.Mutex
}

func (c *wsClient) send(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(resp)
}

// HandleSessionWS streams controller notifications to the client and runs
// the actions it sends.
func HandleSessionWS(ctrl SessionControl, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	notes, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			select {
			case n, ok := <-notes:
				if !ok {
					return
				}
				if err := client.send(WSResponse{Type: "notification", Notification: &n}); err != nil {
					log.Printf("ws: write error: %v", err)
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Initial state so the UI does not wait for the first change
	if err := sendSnapshot(ctx, ctrl, client); err != nil {
		log.Printf("ws: write error: %v", err)
		return
	}

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: read error: %v", err)
			}
			return
		}

		resp := runAction(ctx, ctrl, msg)
		if err := client.send(resp); err != nil {
			log.Printf("ws: write error: %v", err)
			return
		}
	}
}

// sendSnapshot writes the current state. A controller that cannot answer
// is skipped; only write failures are returned.
func sendSnapshot(ctx context.Context, ctrl SessionControl, client *wsClient) error {
	snap, err := ctrl.Snapshot(ctx)
	if err != nil {
		return nil
	}
	return client.send(WSResponse{Type: "snapshot", Snapshot: &snap})
}

func runAction(ctx context.Context, ctrl SessionControl, msg WSMessage) WSResponse {
	var (
		result interface{}
		err    error
	)
	switch msg.Action {
	case "snapshot":
		var snap controller.Snapshot
		if snap, err = ctrl.Snapshot(ctx); err == nil {
			return WSResponse{Type: "snapshot", Action: msg.Action, Snapshot: &snap}
		}
	case "start":
		var id string
		id, err = ctrl.Start(ctx)
		result = map[string]string{"session_id": id}
	case "capture":
		result, err = ctrl.Capture(ctx)
	case "finish":
		result, err = ctrl.Finish(ctx)
	case "reconstruct":
		err = ctrl.Reconstruct(ctx)
	case "retry":
		err = ctrl.Retry(ctx)
	case "reset":
		err = ctrl.Reset(ctx)
	case "abort":
		result, err = ctrl.Abort(ctx)
	case "mode":
		m, perr := ModeRequest{Mode: msg.Mode, IntervalMS: msg.IntervalMS}.parse()
		if perr != nil {
			err = perr
			break
		}
		err = ctrl.ChangeMode(ctx, m)
	default:
		return WSResponse{Type: "error", Action: msg.Action, Message: "unknown action"}
	}
	if err != nil {
		return WSResponse{Type: "error", Action: msg.Action, Result: result, Message: err.Error()}
	}
	return WSResponse{Type: "result", Action: msg.Action, Result: result}
}
