// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Bellwether/services/serving/observability"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
)

// feedWriteTimeout bounds each verdict write so one stuck client cannot
// pin the handler goroutine.
const feedWriteTimeout = 10 * time.Second

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleDriftFeed serves GET /v1/monitoring/drift/feed as a websocket.
//
// # Description
//
// On connect the client immediately receives the current verdict, then one
// message per completed analysis pass until either side disconnects. A
// slow client misses verdicts (the subscription channel drops rather than
// blocks analysis) and can always resynchronize from the drift-status
// endpoint.
func HandleDriftFeed(ctrl *serving.Controller, metrics *observability.ServingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the drift feed websocket", "error", err)
			return
		}
		defer ws.Close()

		metrics.FeedClientConnected()
		defer metrics.FeedClientDisconnected()
		slog.Info("drift feed client connected", "client_ip", c.ClientIP())

		verdicts, cancel := ctrl.SubscribeVerdicts()
		defer cancel()

		// The read loop exists only to observe the close handshake.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		if err := writeVerdict(ws, ctrl.DriftStatus()); err != nil {
			return
		}

		for {
			select {
			case v, ok := <-verdicts:
				if !ok {
					return
				}
				if err := writeVerdict(ws, v); err != nil {
					slog.Info("drift feed client disconnected", "error", err.Error())
					return
				}
			case <-done:
				return
			}
		}
	}
}

func writeVerdict(ws *websocket.Conn, v any) error {
	if err := ws.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(v)
}
