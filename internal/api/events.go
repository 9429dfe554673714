/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/playplan/internal/events"
	"github.com/friendsincode/playplan/internal/telemetry"
)

const wsPingInterval = 15 * time.Second

type eventEnvelope struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handlePlanEvents streams lifecycle events for one plan over a websocket.
func (a *API) handlePlanEvents(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	if _, err := a.plans.Get(r.Context(), planID); err != nil {
		a.writeServiceError(w, err)
		return
	}

	conn, err := ws.Accept(w, r, a.acceptOptions())
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebSocketConnections.Inc()
	defer telemetry.WebSocketConnections.Dec()

	// The client never sends data; CloseRead cancels ctx once it disconnects.
	ctx := conn.CloseRead(r.Context())

	merged := make(chan eventEnvelope, 16)
	subscribers := make([]events.Subscriber, 0, len(events.PlanEventTypes))
	for _, eventType := range events.PlanEventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		go func(eventType events.EventType, sub events.Subscriber) {
			for payload := range sub {
				if payload["plan_id"] != planID {
					continue
				}
				select {
				case merged <- eventEnvelope{Type: eventType, Payload: payload}:
				case <-ctx.Done():
				}
			}
		}(eventType, sub)
	}
	defer func() {
		for i, eventType := range events.PlanEventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case env := <-merged:
			if err := writeEvent(ctx, conn, env); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
			if env.Type == events.EventPlanDeleted {
				conn.Close(ws.StatusNormalClosure, "plan deleted")
				return
			}
		}
	}
}

func (a *API) acceptOptions() *ws.AcceptOptions {
	if len(a.allowedOrigins) == 0 {
		return &ws.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(a.allowedOrigins))
	for _, origin := range a.allowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &ws.AcceptOptions{OriginPatterns: patterns}
}

func writeEvent(ctx context.Context, conn *ws.Conn, env eventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}
