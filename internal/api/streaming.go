package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gamedex/gamedex-server/internal/httputil"
	"github.com/gamedex/gamedex-server/internal/types"
)

// streamInsights forwards analysis snapshots to the client as SSE events.
// Each event's data is one StreamingProgress JSON object; after the terminal
// snapshot the stream closes with a [DONE] marker. Failures surface inside
// the terminal snapshot, not as an HTTP error: by the time they happen the
// 200 header is long gone.
func (h *Handler) streamInsights(w http.ResponseWriter, reqID string, snapshots <-chan types.StreamingProgress) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for progress := range snapshots {
		data, err := json.Marshal(progress)
		if err != nil {
			slog.Error("failed to encode stream snapshot", "error", err, "request_id", reqID)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		h.metrics.RecordStreamChunk()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
