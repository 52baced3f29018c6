package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/dashboard"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/realtime"
	"jagruk/preparedness/internal/roster"
)

type Services struct {
	Roster    *roster.Service
	Drills    *drills.Service
	Alerts    *alerts.Service
	Progress  *progress.Service
	Dashboard *dashboard.Service
}

type Server struct {
	verifier *auth.Verifier
	svc      Services
	ws       *realtime.Server
	log      *zap.Logger
}

func NewServer(verifier *auth.Verifier, svc Services, ws *realtime.Server, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{verifier: verifier, svc: svc, ws: ws, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/students", s.handleCreateStudent)
		r.Get("/students", s.handleListStudents)
		r.Get("/students/{studentId}", s.handleGetStudent)
		r.Get("/students/{studentId}/modules", s.handleListModules)

		r.Post("/drills", s.handleScheduleDrill)
		r.Get("/drills", s.handleListDrills)
		r.Get("/drills/{drillId}", s.handleGetDrill)
		r.Post("/drills/{drillId}/start", s.handleStartDrill)
		r.Post("/drills/{drillId}/complete", s.handleCompleteDrill)
		r.Post("/drills/{drillId}/checkin", s.handleCheckIn)
		r.Put("/drills/{drillId}/attendance/{studentId}", s.handleOverrideAttendance)
		r.Get("/drills/{drillId}/records", s.handleDrillRecords)

		r.Post("/alerts", s.handleSendAlert)
		r.Get("/alerts", s.handleListAlerts)
		r.Get("/alerts/{alertId}", s.handleGetAlert)
		r.Post("/alerts/{alertId}/read", s.handleMarkAlertRead)
		r.Post("/alerts/{alertId}/dismiss", s.handleDismissAlert)

		r.Post("/modules/{moduleId}/complete", s.handleCompleteModule)

		r.Get("/dashboard", s.handleDashboard)
	})

	return r
}

// Auth

type identityKey struct{}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return auth.Identity{}, apperr.Unauthorized(apperr.CodeMissingToken, "missing bearer token")
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		return auth.Identity{}, apperr.Unauthorized(apperr.CodeInvalidToken, "invalid token")
	}
	return id, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

// handleWebsocket authenticates before upgrading. Browsers cannot set headers
// on a websocket handshake, so the token may also come as ?token=.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
	id, err := s.authenticate(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.ws.Accept(w, r, id)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Responses

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidationFailed:
		return http.StatusBadRequest
	case apperr.KindInvalidStateTransition, apperr.KindAlreadyMarked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	status := statusFor(e.Kind)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: e.Code, Message: e.Message, Fields: e.Fields})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return apperr.New(apperr.KindValidationFailed, apperr.CodeInvalidRequest, "invalid JSON body: %v", err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindValidationFailed, apperr.CodeInvalidRequest, "invalid JSON body: %v", err)
	}
	return nil
}

func parseBoolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation(name+" must be a boolean", map[string]string{name: name + " must be true or false"})
	}
	return v, nil
}
