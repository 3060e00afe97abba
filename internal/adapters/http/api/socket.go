package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/netvr/internal/adapters/dashboard"
	"github.com/okian/netvr/pkg/logger"
)

const (
	socketWriteTimeout = 5 * time.Second
	// Dashboards send keep_alive well within this window.
	socketIdleTimeout = 60 * time.Second
)

// SocketHandler serves the dashboard websocket.
type SocketHandler struct {
	deps     Dependencies
	hub      *dashboard.Hub
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewSocketHandler creates a websocket handler fed by hub.
func NewSocketHandler(deps Dependencies, hub *dashboard.Hub) *SocketHandler {
	return &SocketHandler{
		deps: deps,
		hub:  hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
		logger: logger.Get().Named("api.ws"),
	}
}

// sameOrigin admits clients that send no Origin, such as native tools, and
// browsers on a page served from this host. Other sites cannot drive
// move_clients through a visitor's browser.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// HandleSocket handles GET /ws.
func (h *SocketHandler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	sub := h.hub.Subscribe()
	if sub == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", NewKind("api.ws", ErrUnavailable))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unsubscribe(sub.ID)
		return
	}
	ctx := context.WithoutCancel(r.Context())
	log := h.logger.With(logger.String("subscriber", sub.ID.String()))
	log.Info(ctx, "dashboard connected", logger.String("remote", r.RemoteAddr))

	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			h.hub.Unsubscribe(sub.ID)
			_ = conn.Close()
		})
	}
	defer closeConn()

	go func() {
		defer closeConn()
		for e := range sub.C {
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(socketIdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Info(ctx, "dashboard disconnected")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.command(ctx, sub, data)
	}
}

func (h *SocketHandler) command(ctx context.Context, sub *dashboard.Subscriber, data []byte) {
	cmd, err := dashboard.ParseCommand(data)
	if err != nil {
		h.hub.Send(sub.ID, dashboard.Log("warn", err.Error()))
		return
	}
	switch cmd.Type {
	case dashboard.CommandKeepAlive:
	case dashboard.CommandRequestFullSnapshot:
		h.hub.Send(sub.ID, dashboard.Full(h.deps.FullState(ctx)))
	case dashboard.CommandMoveClients:
		if err := h.deps.MoveClients(ctx, cmd.Clients); err != nil {
			h.hub.Send(sub.ID, dashboard.Log("error", err.Error()))
		}
	}
}
