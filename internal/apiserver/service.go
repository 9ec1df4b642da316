// Package apiserver serves the read API, the transaction relay and the /ws
// snapshot push channel on top of an in-process indexer.
package apiserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/coldbell/perpdex/backend/internal/indexer"
	"github.com/coldbell/perpdex/backend/internal/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// Relayer submits pre-signed transactions.
type Relayer interface {
	SendRaw(ctx context.Context, raw []byte) (solana.Signature, error)
}

// SnapshotLister reads persisted snapshot history.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, filter indexer.SnapshotFilter) ([]indexer.SnapshotRecord, int, int, error)
}

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	indexer          *indexer.Service
	relay            Relayer
	snapshots        SnapshotLister
	metrics          *metrics.Metrics
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

// New wires the API around idx. snapshots may be nil when no database is
// configured; the history endpoint then reports 503.
func New(cfg config.APIServerConfig, idx *indexer.Service, relay Relayer, snapshots SnapshotLister, m *metrics.Metrics, logger *slog.Logger) *Service {
	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}
	if m == nil {
		m = metrics.New()
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		indexer:          idx,
		relay:            relay,
		snapshots:        snapshots,
		metrics:          m,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/markets", s.handleMarkets)
	mux.HandleFunc("/api/user/{pubkey}", s.handleUser)
	mux.HandleFunc("/api/orderbook/{symbol}", s.handleOrderBook)
	mux.HandleFunc("/api/relay", s.handleRelay)
	mux.HandleFunc("/api/snapshots", s.handleSnapshots)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/ws", s.handleWebsocket)
	return s.withCORS(mux)
}

// Run serves HTTP and runs the indexer loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.indexer.Run(gctx)
	})
	group.Go(func() error {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return nil
	})

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"rpc", s.cfg.Chain.RPCURL,
		"program", s.cfg.Chain.ProgramID,
		"snapshot_history", s.snapshots != nil,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)
	return group.Wait()
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type configResponse struct {
	ProgramID string `json:"programId"`
	RPCURL    string `json:"rpcUrl"`
}

type marketsResponse struct {
	Markets []codec.MarketView `json:"markets"`
}

type relayRequest struct {
	Transaction string `json:"transaction"`
}

type relayResponse struct {
	Signature string `json:"signature"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, configResponse{
		ProgramID: s.cfg.Chain.ProgramID.String(),
		RPCURL:    s.cfg.Chain.RPCURL,
	})
}

func (s *Service) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	markets, err := s.indexer.Fetcher().MarketViews(r.Context())
	if err != nil {
		s.logger.Error("list markets failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch markets")
		return
	}
	s.respondJSON(w, http.StatusOK, marketsResponse{Markets: markets})
}

func (s *Service) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	user, err := solana.PublicKeyFromBase58(strings.TrimSpace(r.PathValue("pubkey")))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pubkey")
		return
	}
	state, err := s.indexer.Fetcher().User(r.Context(), user)
	if err != nil {
		s.logger.Error("fetch user failed", "user", user, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Service) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	book, err := s.indexer.Fetcher().OrderBookBySymbol(r.Context(), symbol)
	if errors.Is(err, indexer.ErrMarketNotFound) {
		s.respondError(w, http.StatusNotFound, "market or order book not found")
		return
	}
	if err != nil {
		s.logger.Error("fetch order book failed", "market", symbol, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch order book")
		return
	}
	s.respondJSON(w, http.StatusOK, book)
}

func (s *Service) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var request relayRequest
	if err := decodeJSONBody(r, &request); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	encoded := strings.TrimSpace(request.Transaction)
	if encoded == "" {
		s.respondError(w, http.StatusBadRequest, "transaction (base64) is required")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "transaction must be base64")
		return
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil || len(tx.Signatures) == 0 {
		s.respondError(w, http.StatusBadRequest, "transaction is not a signed solana transaction")
		return
	}

	signature, err := s.relay.SendRaw(r.Context(), raw)
	if err != nil {
		s.logger.Warn("relay failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("relayed transaction", "signature", signature)
	s.respondJSON(w, http.StatusOK, relayResponse{Signature: signature.String()})
}

func (s *Service) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	if s.snapshots == nil {
		s.respondError(w, http.StatusServiceUnavailable, "snapshot history is disabled")
		return
	}

	since, err := parseOptionalInt64(r, "since", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	withPayload, err := parseOptionalBool(r, "payload")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.snapshots.ListSnapshots(r.Context(), indexer.SnapshotFilter{
		Since:       since,
		Fingerprint: strings.TrimSpace(r.URL.Query().Get("fingerprint")),
		WithPayload: withPayload,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		s.logger.Error("list snapshots failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.SnapshotRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && s.isOriginAllowed(origin) {
			if s.allowAllOrigins {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "300")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" || s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseOptionalInt64(r *http.Request, key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseOptionalBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
