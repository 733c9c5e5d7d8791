package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/config"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

const recordSaleTimeout = 5 * time.Second

type Service struct {
	cfg              config.SettlerConfig
	logger           *slog.Logger
	engine           *auctionhouse.Engine
	store            *store.Store
	feed             *saleFeed
	now              func() time.Time
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

// New wires the HTTP surface over engine. Committed sales are recorded in
// store and pushed to websocket subscribers.
func New(cfg config.SettlerConfig, logger *slog.Logger, engine *auctionhouse.Engine, store *store.Store) (*Service, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.IntentMaxAge <= 0 {
		return nil, fmt.Errorf("intent max age must be positive")
	}

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

	s := &Service{
		cfg:              cfg,
		logger:           logger,
		engine:           engine,
		store:            store,
		feed:             newSaleFeed(logger),
		now:              time.Now,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}
	engine.Subscribe(s.handleEvent)
	return s, nil
}

// Handler returns the routed API, CORS included.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.withCORS)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebsocket)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/instructions", s.handleListInstructions)
		r.Post("/transactions", s.handleTransaction)

		r.Route("/auction-houses", func(r chi.Router) {
			r.Post("/", s.handleInstruction("create_auction_house"))
			r.Route("/{house}", func(r chi.Router) {
				r.Get("/", s.handleGetAuctionHouse)
				r.Get("/escrow/{wallet}", s.handleGetEscrow)
				r.Post("/update", s.handleHouseInstruction("update_auction_house"))
				r.Post("/withdraw-from-fee", s.handleHouseInstruction("withdraw_from_fee"))
				r.Post("/withdraw-from-treasury", s.handleHouseInstruction("withdraw_from_treasury"))
				r.Post("/deposit", s.handleHouseInstruction("deposit"))
				r.Post("/withdraw", s.handleHouseInstruction("withdraw"))
				r.Post("/sell", s.handleHouseInstruction("sell"))
				r.Post("/bid", s.handleHouseInstruction("buy"))
				r.Post("/public-bid", s.handleHouseInstruction("public_buy"))
				r.Post("/cancel", s.handleHouseInstruction("cancel"))
				r.Post("/execute-sale", s.handleHouseInstruction("execute_sale"))
				r.Post("/auctioneer", s.handleHouseInstruction("delegate_auctioneer"))
				r.Post("/auctioneer/update", s.handleHouseInstruction("update_auctioneer"))
				r.Post("/auctioneer/{action}", s.handleAuctioneerInstruction)
			})
		})

		r.Get("/accounts/{key}", s.handleGetAccount)
		r.Get("/sales", s.handleListSales)

		if s.cfg.EnableFaucet {
			r.Post("/dev/airdrop", s.handleAirdrop)
			r.Post("/dev/mints", s.handleCreateMint)
		}
	})
	return r
}

func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("settler started",
		"listen_addr", s.cfg.ListenAddr,
		"program_id", s.engine.ProgramID().String(),
		"faucet", s.cfg.EnableFaucet,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("settler stopping")
		s.feed.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown settler: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

// handleEvent runs after every commit. Sales are persisted and fanned out.
func (s *Service) handleEvent(event auctionhouse.Event) {
	if event.Kind != auctionhouse.EventSale {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordSaleTimeout)
	defer cancel()

	record, err := s.store.RecordSale(ctx, event)
	if err != nil {
		s.logger.Error("record sale failed",
			"auction_house", event.AuctionHouse.String(),
			"buyer", event.Wallet.String(),
			"slot", event.Slot,
			"err", err,
		)
		return
	}
	s.feed.publish(s.presentSale(record, map[string]currency{}))
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK   bool   `json:"ok"`
	Slot uint64 `json:"slot"`
}

type errorResponse struct {
	Error string  `json:"error"`
	Code  *uint32 `json:"code,omitempty"`
	Name  string  `json:"name,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "err", err)
		s.respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true, Slot: s.engine.Bank().Slot()})
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
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
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
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
