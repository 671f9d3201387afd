// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/nextcloud/go_call_client/internal/call"
)

// Events streams notifications as server-sent events until the client
// goes away. Only notifications published after the request arrive.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	subID := uuid.NewString()
	logger := slog.With("component", "events", "subscriber", subID)

	ch, unsubscribe := h.Service.Notifier().Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": subscribed %s\n\n", subID)
	flusher.Flush()

	logger.Debug("event stream opened")
	defer logger.Debug("event stream closed")

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, n); err != nil {
				logger.Debug("event write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, n call.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Kind, data)
	return err
}
