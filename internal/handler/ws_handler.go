package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/guard"
	"github.com/boddenberg/tradedesk-bfa-go/internal/service"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

// ============================================================
// Live session push: GET /v1/auth/ws
// ============================================================

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

const (
	msgTypeState    = "state"
	msgTypeRedirect = "redirect"
)

type socketMessage struct {
	Type       string              `json:"type"`
	State      *session.State      `json:"state,omitempty"`
	Navigation *service.Navigation `json:"navigation,omitempty"`

	// taken marks a navigation already dequeued with Take.
	taken bool
}

// checkOrigin accepts same-host requests and the configured CORS origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func sessionSocketHandler(reg *service.ClientRegistry, loginPath string, origins []string, logger *zap.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(origins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		client := clientFor(reg, r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade error", zap.Error(err))
			return
		}
		defer conn.Close()

		out := make(chan socketMessage, sendBuffer)
		send := func(m socketMessage) {
			select {
			case out <- m:
			default:
				logger.Debug("ws message dropped", zap.String("type", m.Type))
			}
		}

		unsubState := client.Controller.Subscribe(func(st session.State) {
			send(socketMessage{Type: msgTypeState, State: &st})
		})
		defer unsubState()
		unsubNav := client.Nav.Subscribe(func(n service.Navigation) {
			send(socketMessage{Type: msgTypeRedirect, Navigation: &n})
		})
		defer unsubNav()

		initial := client.Controller.State()
		send(socketMessage{Type: msgTypeState, State: &initial})
		if pending := client.Nav.Take(); pending != nil {
			send(socketMessage{Type: msgTypeRedirect, Navigation: pending, taken: true})
		}

		stop := guard.New(loginPath, client.Nav, logger).Watch(client.Controller)
		defer stop()

		done := make(chan struct{})
		go readPump(conn, done)

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case m := <-out:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(m); err != nil {
					logger.Debug("ws write failed", zap.Error(err))
					return
				}
				if m.Navigation == nil {
					continue
				}
				if !m.taken {
					client.Nav.Delivered(*m.Navigation)
				}
				if m.Navigation.Hard {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "reload"),
						time.Now().Add(writeWait))
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
