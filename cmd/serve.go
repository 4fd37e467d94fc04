package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/config"
	"github.com/sells-group/cnpj-geocoder/internal/export"
	"github.com/sells-group/cnpj-geocoder/internal/fetcher"
	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP upload API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps, err := newDeps(cfg)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(cfg, deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
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

// newRouter wires the upload API.
func newRouter(c *config.Config, deps *geocodeDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Run-ID", "X-Records", "X-Succeeded", "X-Cancelled"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/geocode", geocodeHandler(c, deps))
	return r
}

// geocodeHandler accepts a multipart upload ("file", optional "sample",
// "seed" and "format") and answers with the export body.
func geocodeHandler(c *config.Config, deps *geocodeDeps) http.HandlerFunc {
	maxBytes := int64(c.Server.MaxUploadMB) << 20

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart upload")
			return
		}
		defer r.MultipartForm.RemoveAll() //nolint:errcheck

		format := export.Format(strings.ToLower(r.FormValue("format")))
		if format == "" {
			format = export.FormatGeoJSON
		}
		if format != export.FormatGeoJSON && format != export.FormatCSV && format != export.FormatSummary {
			writeError(w, http.StatusBadRequest, "format must be geojson, csv or summary")
			return
		}

		mode, err := modeFromForm(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		path, cleanup, err := saveUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer cleanup()

		records, err := fetcher.LoadRecords(r.Context(), []string{path}, loadOptions(c))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		rs, err := deps.runner(c, 0, nil).Run(r.Context(), records, mode)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrInvalidSample):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				zap.L().Error("serve: geocode failed", zap.Error(err))
				writeError(w, http.StatusBadGateway, "geocoding aborted")
			}
			return
		}

		var body bytes.Buffer
		var contentType string
		switch format {
		case export.FormatCSV:
			contentType = "text/csv; charset=utf-8"
			err = export.WriteCSV(&body, rs)
		case export.FormatSummary:
			contentType = "application/yaml"
			err = export.WriteSummaryYAML(&body, rs)
		default:
			contentType = "application/geo+json"
			err = export.WriteGeoJSON(&body, rs)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}

		setRunHeaders(w, rs)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body.Bytes())
	}
}

func modeFromForm(r *http.Request) (pipeline.Mode, error) {
	mode := pipeline.Mode{Seed: pipeline.DefaultSeed}
	if v := r.FormValue("sample"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return mode, eris.New("sample must be an integer")
		}
		mode.Sample = n
	}
	if v := r.FormValue("seed"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return mode, eris.New("seed must be an integer")
		}
		mode.Seed = s
	}
	return mode, nil
}

// saveUpload writes the "file" part to a temp dir, keeping its extension so
// the loader can pick a reader.
func saveUpload(r *http.Request) (string, func(), error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", func() {}, eris.New("file is required")
	}
	defer file.Close() //nolint:errcheck

	dir, err := os.MkdirTemp("", "cnpj-geocoder-upload-*")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := filepath.Base(header.Filename)
	if name == "." || name == "/" {
		name = "upload.csv"
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", func() {}, err
	}
	if _, err := out.ReadFrom(file); err != nil {
		out.Close() //nolint:errcheck
		cleanup()
		return "", func() {}, err
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return path, cleanup, nil
}

func setRunHeaders(w http.ResponseWriter, rs *model.ResultSet) {
	w.Header().Set("X-Run-ID", rs.RunID)
	w.Header().Set("X-Records", strconv.Itoa(len(rs.Results)))
	w.Header().Set("X-Succeeded", strconv.Itoa(rs.Summary.Succeeded))
	w.Header().Set("X-Cancelled", strconv.FormatBool(rs.Cancelled))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
