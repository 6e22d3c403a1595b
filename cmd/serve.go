package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/fetch"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/pipeline"
	"github.com/prospect-labs/prospector-cli/internal/store"
)

var servePort int

// queryService is the slice of the pipeline the HTTP API needs.
type queryService interface {
	CreatePreview(ctx context.Context, req model.SearchRequest) (*pipeline.PreviewResult, error)
	GetStatus(ctx context.Context, queryID string) (*pipeline.StatusSummary, error)
	MarkPaid(ctx context.Context, queryID string) error
	EstimateCost(req model.SearchRequest) cost.Estimate
	FetchStatus() fetch.Status
}

var _ queryService = (*pipeline.SearchPipeline)(nil)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Pipeline),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the API routes over the given service.
func buildRouter(svc queryService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"scrape": svc.FetchStatus(),
		})
	})

	r.Route("/v1/search", func(r chi.Router) {
		r.Post("/preview", func(w http.ResponseWriter, req *http.Request) {
			var sr model.SearchRequest
			if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if sr.Query == "" {
				writeError(w, http.StatusBadRequest, "query is required")
				return
			}

			result, err := svc.CreatePreview(req.Context(), sr)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Post("/estimate", func(w http.ResponseWriter, req *http.Request) {
			var sr model.SearchRequest
			if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if sr.Query == "" {
				writeError(w, http.StatusBadRequest, "query is required")
				return
			}
			writeJSON(w, http.StatusOK, svc.EstimateCost(sr))
		})

		r.Get("/{queryID}/status", func(w http.ResponseWriter, req *http.Request) {
			summary, err := svc.GetStatus(req.Context(), chi.URLParam(req, "queryID"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})

		r.Post("/{queryID}/pay", func(w http.ResponseWriter, req *http.Request) {
			queryID := chi.URLParam(req, "queryID")
			if err := svc.MarkPaid(req.Context(), queryID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":   "enrichment_queued",
				"query_id": queryID,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps pipeline errors to HTTP statuses. Messages pass
// through as-is: the pipeline already reduces internal failures to a
// generic message before they reach callers.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "query not found")
	case errors.Is(err, pipeline.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid status transition")
	default:
		writeError(w, http.StatusInternalServerError, eris.Cause(err).Error())
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
