package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catchment-tools/schoolsearch-cli/internal/estimate"
	"github.com/catchment-tools/schoolsearch-cli/internal/geo"
	"github.com/catchment-tools/schoolsearch-cli/internal/model"
	"github.com/catchment-tools/schoolsearch-cli/internal/scorer"
	"github.com/catchment-tools/schoolsearch-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		api := &apiServer{
			store:          st,
			defaultWeights: scorer.Weights(cfg.Scorer.Weights()),
			defaultLimit:   cfg.Search.DefaultLimit,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(api, cfg.Server.CORSOrigins),
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

// apiServer holds the handler dependencies.
type apiServer struct {
	store          store.Store
	defaultWeights scorer.Weights
	defaultLimit   int
}

func newRouter(api *apiServer, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", api.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/schools", api.handleSearchSchools)
		r.Get("/schools/{urn}", api.handleGetSchool)
		r.Get("/schools/{urn}/admissions", api.handleAdmissions)
		r.Post("/score", api.handleScore)
		r.Post("/rescore", api.handleRescore)
		r.Post("/estimate", api.handleEstimate)
	})
	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (api *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *apiServer) handleSearchSchools(w http.ResponseWriter, r *http.Request) {
	cons, err := constraintsFromQuery(r.URL.Query(), api.defaultLimit)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	results, err := api.store.SearchSchools(r.Context(), *cons)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if results == nil {
		results = []model.SchoolDistance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (api *apiServer) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	urn := chi.URLParam(r, "urn")
	school, err := api.store.GetSchool(r.Context(), urn)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if school == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "school not found"})
		return
	}
	writeJSON(w, http.StatusOK, school)
}

func (api *apiServer) handleAdmissions(w http.ResponseWriter, r *http.Request) {
	urn := chi.URLParam(r, "urn")
	records, err := api.store.AdmissionsHistory(r.Context(), urn)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if records == nil {
		records = []model.AdmissionsRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

type scoreRequest struct {
	Constraints store.Constraints `json:"constraints"`
	Weights     scorer.Weights    `json:"weights,omitempty"`
}

func (api *apiServer) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	weights := api.defaultWeights
	if len(req.Weights) > 0 {
		weights = api.defaultWeights.Merge(req.Weights)
	}

	if err := req.Constraints.Validate(); err != nil {
		writeAPIError(w, err)
		return
	}
	candidates, err := api.store.SearchSchools(r.Context(), req.Constraints)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	scored, err := scorer.Score(candidates, weights, scorer.Preferences{Clubs: req.Constraints.Clubs})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if scored == nil {
		scored = []scorer.ScoredSchool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": scored, "count": len(scored)})
}

// rescoreRequest carries a previously scored candidate set plus the
// constraints it was produced under. A weight-only change reranks the
// candidates in place; a constraint change that alters set membership
// forces a fresh query.
type rescoreRequest struct {
	Constraints         *store.Constraints    `json:"constraints,omitempty"`
	PreviousConstraints *store.Constraints    `json:"previous_constraints,omitempty"`
	Candidates          []scorer.ScoredSchool `json:"candidates"`
	Weights             scorer.Weights        `json:"weights"`
}

func (api *apiServer) handleRescore(w http.ResponseWriter, r *http.Request) {
	var req rescoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	weights := api.defaultWeights
	if len(req.Weights) > 0 {
		weights = api.defaultWeights.Merge(req.Weights)
	}

	weightOnly := req.Constraints == nil ||
		(req.PreviousConstraints != nil && req.Constraints.CandidateSetEquals(*req.PreviousConstraints))

	var (
		scored []scorer.ScoredSchool
		err    error
	)
	if weightOnly {
		scored, err = scorer.Rescore(req.Candidates, weights)
	} else {
		if err := req.Constraints.Validate(); err != nil {
			writeAPIError(w, err)
			return
		}
		var candidates []model.SchoolDistance
		candidates, err = api.store.SearchSchools(r.Context(), *req.Constraints)
		if err == nil {
			scored, err = scorer.Score(candidates, weights, scorer.Preferences{Clubs: req.Constraints.Clubs})
		}
	}
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if scored == nil {
		scored = []scorer.ScoredSchool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":     scored,
		"count":       len(scored),
		"weight_only": weightOnly,
	})
}

type estimateRequest struct {
	SchoolURN string `json:"school_urn"`
	Origin    struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"origin"`
}

func (api *apiServer) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.SchoolURN == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "school_urn is required"})
		return
	}
	if err := geo.ValidateCoordinate(req.Origin.Latitude, req.Origin.Longitude); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	school, err := api.store.GetSchool(r.Context(), req.SchoolURN)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if school == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "school not found"})
		return
	}

	history, err := api.store.AdmissionsHistory(r.Context(), req.SchoolURN)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	distance := geo.DistanceKM(req.Origin.Latitude, req.Origin.Longitude, school.Latitude, school.Longitude)
	est, err := estimate.Estimate(history, distance)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"school_urn":  school.URN,
		"school_name": school.Name,
		"distance_km": distance,
		"estimate":    est,
	})
}

// constraintsFromQuery maps URL query parameters onto Constraints.
// Validation itself stays in Constraints.Validate; this only parses.
func constraintsFromQuery(q url.Values, defaultLimit int) (*store.Constraints, error) {
	cons := store.Constraints{Limit: defaultLimit}

	var err error
	if cons.OriginLat, err = parseQueryFloat(q, "lat"); err != nil {
		return nil, err
	}
	if cons.OriginLng, err = parseQueryFloat(q, "lng"); err != nil {
		return nil, err
	}

	if v := q.Get("max_distance_km"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: max_distance_km %q is not a number", v)
		}
		cons.MaxDistanceKM = &d
	}
	if v := q.Get("min_age"); v != "" {
		age, err := strconv.Atoi(v)
		if err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: min_age %q is not a number", v)
		}
		cons.MinAge = &age
	}
	if v := q.Get("max_age"); v != "" {
		age, err := strconv.Atoi(v)
		if err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: max_age %q is not a number", v)
		}
		cons.MaxAge = &age
	}
	if v := q.Get("age"); v != "" {
		age, err := strconv.Atoi(v)
		if err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: age %q is not a number", v)
		}
		cons.MinAge, cons.MaxAge = &age, &age
	}

	cons.Gender = store.GenderFilter(q.Get("gender"))

	if v := q.Get("min_rating"); v != "" {
		rating, err := model.ParseRating(v)
		if err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: min_rating %q is not a rating", v)
		}
		cons.MinRating = &rating
	}

	for _, t := range splitQueryList(q.Get("type")) {
		cons.SchoolTypes = append(cons.SchoolTypes, model.SchoolType(t))
	}
	cons.Faiths = splitQueryList(q.Get("faith"))
	cons.Clubs = splitQueryList(q.Get("clubs"))

	if v := q.Get("max_fee_per_term"); v != "" {
		fee, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: max_fee_per_term %q is not a number", v)
		}
		cons.MaxFeePerTerm = &fee
	}

	cons.NameContains = q.Get("name")

	if v := q.Get("limit"); v != "" {
		if cons.Limit, err = strconv.Atoi(v); err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: limit %q is not a number", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if cons.Offset, err = strconv.Atoi(v); err != nil {
			return nil, eris.Wrapf(store.ErrInvalidConstraint, "constraint: offset %q is not a number", v)
		}
	}

	cons.Sort = store.SortOrder(q.Get("sort"))

	if err := cons.Validate(); err != nil {
		return nil, err
	}
	return &cons, nil
}

func parseQueryFloat(q url.Values, key string) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, eris.Wrapf(store.ErrInvalidConstraint, "constraint: %s is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, eris.Wrapf(store.ErrInvalidConstraint, "constraint: %s %q is not a number", key, v)
	}
	return f, nil
}

func splitQueryList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAPIError maps the error taxonomy onto status codes: caller
// errors 400, unreachable backend 503, everything else 500.
func writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidConstraint), errors.Is(err, geo.ErrInvalidCoordinate):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case store.IsBackendUnavailable(err):
		zap.L().Error("backend unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backend unavailable"})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
