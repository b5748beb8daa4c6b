package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/auth"
	"github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/streaming"
)

// StreamingHandler serves SSE endpoints for research events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	h.RegisterWebSocket(mux)
}

// parseKindFilter parses the comma-separated types parameter. An empty map
// means no filtering.
func parseKindFilter(raw string) map[string]struct{} {
	filter := map[string]struct{}{}
	if raw == "" {
		return filter
	}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

// handleSSE streams events for a research request via Server-Sent Events.
// GET /stream/sse?workflow_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, auth.ScopeResearchRead) == nil {
		return
	}
	wf := r.URL.Query().Get("workflow_id")
	if wf == "" {
		http.Error(w, `{"error":"workflow_id required"}`, http.StatusBadRequest)
		return
	}
	// Optional: event kind filter (comma-separated)
	kindFilter := parseKindFilter(r.URL.Query().Get("types"))

	// Optional: Last-Event-ID header or query param to replay from.
	// 0 replays the whole retained history.
	var lastID uint64
	haveLastID := false
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
			haveLastID = true
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && !haveLastID {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
			haveLastID = true
		}
	}

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe
	ch := h.mgr.Subscribe(wf, 256)
	defer h.mgr.Unsubscribe(wf, ch)
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	// Send an initial comment to establish the stream
	fmt.Fprintf(w, ": connected to workflow %s\n\n", wf)
	flusher.Flush()

	// Replay backlog since lastID (best-effort)
	if haveLastID {
		for _, ev := range h.mgr.ReplaySince(wf, lastID) {
			writeSSEEvent(w, ev, kindFilter)
		}
		flusher.Flush()
	}

	// Heartbeat ticker
	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("workflow_id", wf))
			return
		case evt := <-ch:
			if writeSSEEvent(w, evt, kindFilter) {
				flusher.Flush()
			}
		case <-hb.C:
			// Heartbeat to keep connections alive through proxies
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event as an SSE frame, honoring the kind filter.
// Reports whether a frame was written.
func writeSSEEvent(w http.ResponseWriter, ev streaming.Event, kindFilter map[string]struct{}) bool {
	if len(kindFilter) > 0 {
		if _, ok := kindFilter[string(ev.Kind)]; !ok {
			return false
		}
	}
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Kind != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Kind)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
	return true
}
