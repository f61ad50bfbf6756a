package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"airtopup/internal/catalog"
	"airtopup/internal/config"
	"airtopup/internal/flow"
	"airtopup/internal/fulfillment"
	"airtopup/internal/idempotency"
	"airtopup/internal/wallet"
	"airtopup/internal/webhookauth"
)

// Submitter runs one payment attempt. Satisfied by *flow.Controller.
type Submitter interface {
	Submit(ctx context.Context, intent catalog.Intent, session wallet.Client) (flow.Outcome, error)
}

// CatalogFetcher fetches the provider catalog. Satisfied by
// *catalog.Client.
type CatalogFetcher interface {
	Fetch(ctx context.Context) (*catalog.Catalog, error)
}

type Server struct {
	cfg        *config.AppConfig
	submitter  Submitter
	wallet     wallet.Client
	catalog    CatalogFetcher
	queue      fulfillment.Store
	replay     idempotency.Store
	webhook    *webhookauth.Verifier
	metrics    *metricsRegistry
	httpServer *http.Server

	catalogMu   sync.Mutex
	catalogData *catalog.Catalog
	catalogAt   time.Time
}

func NewServer(cfg *config.AppConfig, submitter Submitter, w wallet.Client, cat CatalogFetcher, queue fulfillment.Store, replay idempotency.Store) *Server {
	s := &Server{
		cfg:       cfg,
		submitter: submitter,
		wallet:    w,
		catalog:   cat,
		queue:     queue,
		replay:    replay,
		webhook: &webhookauth.Verifier{
			Secret:  cfg.Service.WebhookSecret,
			MaxSkew: cfg.Service.WebhookClockSkew,
		},
		metrics: newMetricsRegistry(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/topups", s.handleSubmitTopup).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/catalog", s.handleCatalog).Methods(http.MethodGet)
	r.Handle("/api/v1/callbacks/delivery", s.webhook.Middleware(http.HandlerFunc(s.handleDeliveryCallback))).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/api/v1/metrics", s.metrics.handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(r),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StateHook observes flow state transitions for metrics. Register it on
// the flow controller.
func (s *Server) StateHook(state flow.State) {
	if state == flow.StateApproving {
		s.metrics.incApproval()
	}
}

type topupSubmission struct {
	Country     string `json:"country"`
	Operator    string `json:"operator"`
	Amount      string `json:"amount"`
	Phone       string `json:"phone"`
	SenderPhone string `json:"senderPhone"`
	Email       string `json:"email"`
}

type topupResult struct {
	Status    string `json:"status"`
	TxHash    string `json:"txHash"`
	Reference string `json:"reference"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleSubmitTopup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, flow.KindInvalidInput, "missing X-Idempotency-Key header")
		return
	}

	// A retried request replays the first attempt's response instead of
	// moving funds a second time.
	if cached, _ := s.replay.Get(ctx, key); cached != nil {
		s.metrics.incSubmission("cached")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.StatusCode)
		_, _ = w.Write(cached.Body)
		return
	}

	var payload topupSubmission
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, flow.KindInvalidInput, "invalid json payload")
		return
	}

	cat, err := s.cachedCatalog(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, flow.KindUnknownTransaction, "catalog unavailable: "+err.Error())
		return
	}

	intent, err := catalog.BuildIntent(cat, payload.Country, payload.Operator, payload.Amount,
		payload.Phone, payload.SenderPhone, payload.Email)
	if err != nil {
		s.metrics.incSubmission(string(flow.KindInvalidInput))
		writeError(w, http.StatusBadRequest, flow.KindInvalidInput, err.Error())
		return
	}

	outcome, err := s.submitter.Submit(ctx, intent, s.wallet)
	if err != nil {
		if errors.Is(err, flow.ErrSubmissionInFlight) {
			writeError(w, http.StatusConflict, flow.KindSubmissionInFlight, err.Error())
			return
		}
		kind := flow.KindOf(err)
		s.metrics.incSubmission(string(kind))
		writeError(w, statusForKind(kind), kind, userMessage(err))
		return
	}

	body, err := json.Marshal(topupResult{
		Status:    "succeeded",
		TxHash:    outcome.TxHash,
		Reference: outcome.Reference,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, flow.KindUnknownTransaction, "encode response: "+err.Error())
		return
	}

	// Only a completed payment is worth replaying. Failed attempts stay
	// retryable under the same key.
	_ = s.replay.Save(ctx, key, idempotency.Record{
		StatusCode: http.StatusCreated,
		Body:       body,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	})

	s.metrics.incSubmission("succeeded")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func statusForKind(kind flow.Kind) int {
	switch kind {
	case flow.KindInvalidInput:
		return http.StatusBadRequest
	case flow.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case flow.KindApprovalReverted, flow.KindTransferReverted:
		return http.StatusUnprocessableEntity
	case flow.KindConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func userMessage(err error) string {
	var fe *flow.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.cachedCatalog(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, flow.KindUnknownTransaction, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) cachedCatalog(ctx context.Context) (*catalog.Catalog, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if s.catalogData != nil && time.Since(s.catalogAt) < s.cfg.Service.CatalogCacheTTL {
		s.metrics.incCatalogFetch("cache")
		return s.catalogData, nil
	}

	cat, err := s.catalog.Fetch(ctx)
	if err != nil {
		s.metrics.incCatalogFetch("error")
		// Serve a stale catalog over no catalog.
		if s.catalogData != nil {
			return s.catalogData, nil
		}
		return nil, err
	}

	s.metrics.incCatalogFetch("provider")
	s.catalogData = cat
	s.catalogAt = time.Now()
	return cat, nil
}

type deliveryCallback struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

func (s *Server) handleDeliveryCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload deliveryCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.TxHash == "" {
		http.Error(w, "tx_hash is required", http.StatusBadRequest)
		return
	}

	if err := s.queue.Resolve(ctx, payload.TxHash); err != nil {
		s.metrics.incCallback("failed")
		http.Error(w, "failed to resolve pending fulfillment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.incCallback("processed")
	s.updatePendingDepth(ctx)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tx_hash": payload.TxHash})
}

func (s *Server) updatePendingDepth(ctx context.Context) int {
	depth := 0
	if s.queue != nil {
		if pending, err := s.queue.Pending(ctx); err == nil {
			depth = len(pending)
		}
	}
	s.metrics.setPendingDepth(depth)
	return depth
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if checker, ok := s.wallet.(wallet.HealthChecker); ok {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := checker.Ping(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	storeInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if checker, ok := s.queue.(interface{ Ping(context.Context) error }); ok {
		storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := checker.Ping(storeCtx); err != nil {
			storeInfo.Connected = false
			storeInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	depth := s.updatePendingDepth(ctx)

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status       string      `json:"status"`
		RPC          interface{} `json:"rpc"`
		Store        interface{} `json:"store"`
		PendingDepth int         `json:"pending_fulfillments"`
	}{
		Status:       status,
		RPC:          rpcInfo,
		Store:        storeInfo,
		PendingDepth: depth,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, kind flow.Kind, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, Kind: string(kind)})
}
