package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/landmarket/params"
	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/market"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxTxBytes       = 64 << 10
)

var zeroAddress common.Address

// Server handles REST API and WebSocket connections
type Server struct {
	app    *market.App
	cfg    params.API
	router *mux.Router
	hub    *Hub // WebSocket hub
	logger *zap.SugaredLogger
}

// NewServer creates a new API server. The WebSocket hub subscribes to the app's
// event bus, so every committed event reaches subscribed clients.
func NewServer(app *market.App, cfg params.API, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:    app,
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	app.Bus().Subscribe(s.hub)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID, s.instrument)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order endpoints
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/quote", s.handleGetQuote).Methods("GET")

	// Asset and account endpoints
	api.HandleFunc("/assets/{id:[0-9]+}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// Marketplace endpoints
	api.HandleFunc("/policy", s.handleGetPolicy).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	// Transaction submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.app.Metrics().Handler()).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Infow("api_shutdown")
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// Middleware
// ==============================

type ctxKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/ws" {
			// the upgrade hijacks the connection
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.app.Metrics().HTTPRequest(route, strconv.Itoa(rec.status))
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_offset", err.Error())
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultPageLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var orders []OrderInfo
	switch q.Get("status") {
	case "", "all":
		for _, o := range s.app.Orders(offset, limit) {
			orders = append(orders, s.orderInfo(o))
		}
	case "open":
		open := s.app.OpenOrders()
		for i := offset; i < len(open) && i < offset+limit; i++ {
			orders = append(orders, s.orderInfo(open[i]))
		}
	default:
		respondError(w, http.StatusBadRequest, "invalid_status", "status must be open or all")
		return
	}
	if orders == nil {
		orders = []OrderInfo{}
	}

	respondJSON(w, OrderList{
		Orders: orders,
		Total:  s.app.Status().Orders,
		Offset: offset,
		Limit:  limit,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	o, err := s.app.Order(id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, s.orderInfo(o))
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	q, err := s.app.Quote(id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, quoteInfo(q))
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := new(big.Int).SetString(mux.Vars(r)["id"], 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_asset_id", "")
		return
	}
	a, err := s.app.Asset(id)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, s.assetInfo(a))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid_address", "")
		return
	}
	respondJSON(w, s.accountInfo(s.app.Account(common.HexToAddress(addressStr))))
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p := s.app.Policy()
	info := PolicyInfo{
		Owner:          p.Owner.Hex(),
		Paused:         p.Paused,
		FeePerThousand: p.FeePerThousand,
	}
	if p.FeeReceiver != zeroAddress {
		info.FeeReceiver = p.FeeReceiver.Hex()
	}
	respondJSON(w, info)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st := s.app.Status()
	respondJSON(w, StatusInfo{
		Orders:        st.Orders,
		OpenOrders:    st.OpenOrders,
		StateRoot:     st.StateRoot.Hex(),
		Paused:        st.Paused,
		MarketAddress: s.app.MarketAddress().Hex(),
		ChainID:       s.app.Domain().ChainID.String(),
		Token:         s.app.TokenSymbol(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read_failed", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "tx_too_large", "")
		return
	}

	rcpt, err := s.app.SubmitRaw(body)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}

	s.logger.Infow("tx_submitted",
		"request_id", requestIDFrom(r),
		"type", rcpt.Type,
		"from", rcpt.From.Hex(),
		"nonce", rcpt.Nonce,
	)
	respondJSON(w, SubmitTxResponse{
		Status:  "applied",
		Type:    string(rcpt.Type),
		From:    rcpt.From.Hex(),
		Nonce:   rcpt.Nonce,
		OrderID: rcpt.OrderID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func orderIDVar(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "")
		return 0, false
	}
	return id, true
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

// statusFor maps an error class to an HTTP status
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindState:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInput:
		return http.StatusBadRequest
	case errs.KindExternal:
		return http.StatusPaymentRequired
	case errs.KindPolicy:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request_failed", "request_id", requestIDFrom(r), "path", r.URL.Path, "err", err)
	}
	respondError(w, status, errs.Reason(err), err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, reason string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   reason,
		Message: message,
	})
}
