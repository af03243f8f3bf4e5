package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server is the webhook HTTP listener.
type Server struct {
	log     *slog.Logger
	bridge  *Bridge
	httpSrv *http.Server
}

// New builds a Server listening on addr.
func New(log *slog.Logger, addr string, bridge *Bridge) *Server {
	s := &Server{
		log:    log.With("component", "http_server"),
		bridge: bridge,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /qq/webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully, letting
// in-flight webhook requests finish within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("bridge server started", "addr", s.httpSrv.Addr)

		if err := s.httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("bridge server stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := ulid.Make().String()
	log := s.log.With("request_id", requestID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("failed to read webhook body", "error", err)
		http.Error(w, "cannot read request body", http.StatusBadRequest)

		return
	}

	// The signature covers the raw body, so verification happens before
	// any decoding.
	if !s.bridge.qq.VerifyCallbackSignature(body, r.Header) {
		log.Warn("webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)

		return
	}

	var payload map[string]any

	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("invalid webhook payload", "error", err)
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)

		return
	}

	result, err := s.bridge.HandleEvent(payload)
	if err != nil {
		log.Error("webhook handling failed", "error", err)
		writeJSON(w, http.StatusBadGateway, Result{Status: "error", Reason: err.Error()})

		return
	}

	log.Info("webhook handled", "status", result.Status, "event_id", result.EventID)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
