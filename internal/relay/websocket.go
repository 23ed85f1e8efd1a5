package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
)

// WebSocketHandler streams a tenant's relay events to a browser connection
// as JSON text frames.
type WebSocketHandler struct {
	Hub           *Hub
	AllowedOrigin string
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	if tenantID == "" {
		http.Error(w, "missing tenant id", http.StatusBadRequest)
		return
	}

	opts := &websocket.AcceptOptions{}
	if h.AllowedOrigin != "" {
		opts.OriginPatterns = []string{h.AllowedOrigin}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "err", err, "tenant_id", tenantID)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	// We never expect client frames; CloseRead cancels the context when the
	// peer goes away.
	ctx := conn.CloseRead(r.Context())

	sub := h.Hub.Subscribe(tenantID)
	defer sub.Close()

	slog.Info("event stream opened", "tenant_id", tenantID, "ip", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				slog.Debug("event stream write failed", "err", err, "tenant_id", tenantID)
				return
			}
		}
	}
}
