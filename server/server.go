package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/serisow/docstore/handlers"
	"github.com/urfave/negroni"
	"golang.org/x/crypto/acme/autocert"
)

// Ingestion runs extraction and embedding inside the request, so writes get a
// much longer deadline than reads.
const (
	idleTimeout     = time.Minute
	readTimeout     = time.Minute
	writeTimeout    = 10 * time.Minute
	shutdownTimeout = 30 * time.Second
)

type Config struct {
	Domains      []string
	CertCacheDir string
	HTTPPort     string
}

// Deps are the services the routes dispatch to.
type Deps struct {
	Ingester handlers.Ingester
	Searcher handlers.Searcher
	Library  handlers.Library
	Auth     handlers.Authenticator
	Ping     func(ctx context.Context) error
	Logger   *slog.Logger
}

func SetupRoutes(d Deps) *mux.Router {
	r := mux.NewRouter()

	uploadHandler := handlers.NewUploadHandler(d.Ingester, d.Library, d.Auth, d.Logger)
	r.Handle("/app/upload_files/{account_id:[0-9]+}", uploadHandler).Methods("POST")

	searchHandler := handlers.NewDocumentSearchHandler(d.Searcher, d.Library, d.Auth, d.Logger)
	r.Handle("/app/most_relevant_files/{account_id:[0-9]+}", searchHandler).Methods("POST")

	documentsHandler := handlers.NewDocumentsHandler(d.Library, d.Auth, d.Logger)
	r.HandleFunc("/app/see_files/{account_id:[0-9]+}", documentsHandler.ListFiles).Methods("GET")
	r.HandleFunc("/app/delete_file/{account_id:[0-9]+}/{file_id:[0-9]+}", documentsHandler.DeleteFile).Methods("DELETE")
	r.HandleFunc("/app/delete_all_files/{account_id:[0-9]+}", documentsHandler.DeleteAllFiles).Methods("DELETE")
	r.HandleFunc("/app/get_file/{file_id:[0-9]+}", documentsHandler.GetFile).Methods("GET")

	r.Handle("/healthz", handlers.Health{Ping: d.Ping, Logger: d.Logger}).Methods("GET")

	return r
}

func SetupNegroni(h http.Handler, logger *slog.Logger) *negroni.Negroni {
	n := negroni.New()

	recovery := negroni.NewRecovery()
	recovery.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelError)
	n.Use(recovery)
	n.Use(RequestLogger(logger))

	n.UseHandler(h)
	return n
}

// RequestLogger tags every request with an X-Request-ID, reusing the caller's
// when present, and logs one line when the request completes.
func RequestLogger(logger *slog.Logger) negroni.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next(w, r)

		status := http.StatusOK
		if rw, ok := w.(negroni.ResponseWriter); ok && rw.Status() != 0 {
			status = rw.Status()
		}
		logger.Info("Handled request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("elapsed", time.Since(start)))
	}
}

// ServeProduction serves HTTPS on :443 with certificates from Let's Encrypt
// and answers ACME challenges on :80. It returns once ctx is cancelled and the
// server has drained.
func ServeProduction(ctx context.Context, h http.Handler, cfg Config, logger *slog.Logger) error {
	autocertManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Cache:      autocert.DirCache(cfg.CertCacheDir),
	}

	// http-01 challenges; everything else is redirected to HTTPS.
	challenge := &http.Server{
		Addr:         ":80",
		Handler:      autocertManager.HTTPHandler(nil),
		IdleTimeout:  idleTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ACME challenge server failed", slog.String("error", err.Error()))
		}
	}()
	defer challenge.Close()

	srv := &http.Server{
		Addr:    ":443",
		Handler: h,
		TLSConfig: &tls.Config{
			GetCertificate:   autocertManager.GetCertificate,
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		},
		IdleTimeout:  idleTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	logger.Info("Starting production server", slog.Any("domains", cfg.Domains))
	return serve(ctx, srv, logger, func() error {
		// Key and cert provided automatically by autocert.
		return srv.ListenAndServeTLS("", "")
	})
}

// ServeDevelopment serves plain HTTP on cfg.HTTPPort until ctx is cancelled.
func ServeDevelopment(ctx context.Context, h http.Handler, cfg Config, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h,
		IdleTimeout:  idleTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	logger.Info("Starting development server", slog.String("addr", srv.Addr))
	return serve(ctx, srv, logger, srv.ListenAndServe)
}

func serve(ctx context.Context, srv *http.Server, logger *slog.Logger, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
