package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/config"
	"github.com/IlyasAtabaev731/onlyfrens/internal/ledger"
	"github.com/IlyasAtabaev731/onlyfrens/internal/lib/metrics"
	"github.com/gorilla/mux"
)

type APIServer struct {
	config    *config.Config
	logger    *slog.Logger
	server    *http.Server
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	jwtSecret []byte
}

func New(config *config.Config, logger *slog.Logger, ledger *ledger.Ledger, metrics *metrics.Metrics) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ledger:    ledger,
		metrics:   metrics,
		jwtSecret: []byte(config.Auth.JWTSecret),
	}
	s.server.Handler = s.router()
	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler, for tests and embedding.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.recoverer, s.instrument)

	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	router.HandleFunc("/api/auth/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/api/auth/login", s.loginHandler()).Methods("POST")
	router.HandleFunc("/api/auth/demo-login", s.demoLoginHandler()).Methods("POST")
	router.HandleFunc("/api/auth/logout", s.logoutHandler()).Methods("POST")

	router.HandleFunc("/api/user/me", s.authenticate(s.meHandler())).Methods("GET")
	router.HandleFunc("/api/user/balance", s.authenticate(s.balanceHandler())).Methods("GET")
	router.HandleFunc("/api/user/actions", s.authenticate(s.actionsHandler())).Methods("GET")

	router.HandleFunc("/api/contract/deposit", s.authenticate(s.depositHandler())).Methods("POST")
	router.HandleFunc("/api/contract/withdraw", s.authenticate(s.withdrawHandler())).Methods("POST")
	router.HandleFunc("/api/contract/tip", s.authenticate(s.tipHandler())).Methods("POST")
	router.HandleFunc("/api/contract/subscribe", s.authenticate(s.subscribeHandler())).Methods("POST")
	router.HandleFunc("/api/contract/buy-nft", s.authenticate(s.buyNftHandler())).Methods("POST")

	router.HandleFunc("/api/nft/verify", s.authenticate(s.verifyNftHandler())).Methods("POST")

	return router
}
