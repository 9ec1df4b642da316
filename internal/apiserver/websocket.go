package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coldbell/perpdex/backend/internal/indexer"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	websocketReadTimeout  = 90 * time.Second
	websocketWriteTimeout = 10 * time.Second
	websocketPingInterval = 30 * time.Second
)

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type websocketInbound struct {
	Type   string `json:"type"`
	Pubkey string `json:"pubkey"`
}

type websocketState struct {
	Type    string           `json:"type"`
	Payload indexer.Snapshot `json:"payload"`
}

// handleWebsocket pushes the last snapshot on connect and every changed
// snapshot after that. Inbound messages add or remove tracked users.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return s.isOriginAllowed(strings.TrimSpace(req.Header.Get("Origin")))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("conn_id", uuid.NewString())
	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()
	logger.Debug("websocket connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	state := s.indexer.State()
	updates, stop := state.Listen()
	defer stop()

	if err := writeWebsocketJSON(conn, websocketState{Type: "state", Payload: state.Last()}); err != nil {
		return
	}

	readErrCh := make(chan error, 1)
	go s.websocketReadLoop(ctx, conn, state, readErrCh)

	ping := time.NewTicker(websocketPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := writeWebsocketJSON(conn, websocketState{Type: "state", Payload: snapshot}); err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Service) websocketReadLoop(ctx context.Context, conn *websocket.Conn, state *indexer.State, readErrCh chan<- error) {
	conn.SetReadLimit(64 * 1024)
	if err := conn.SetReadDeadline(time.Now().Add(websocketReadTimeout)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
		})
	}
	for {
		select {
		case <-ctx.Done():
			readErrCh <- nil
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			readErrCh <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))

		var message websocketInbound
		if err := json.Unmarshal(raw, &message); err != nil {
			continue
		}
		pubkey := strings.TrimSpace(message.Pubkey)
		if _, err := solana.PublicKeyFromBase58(pubkey); err != nil {
			continue
		}
		switch strings.TrimSpace(message.Type) {
		case "subscribe_user":
			state.AddSubscriber(pubkey)
		case "unsubscribe_user":
			state.RemoveSubscriber(pubkey)
		}
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
