package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/roster"
	"jagruk/preparedness/internal/validate"
)

// Students

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req roster.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	st, err := s.svc.Roster.Create(r.Context(), identityFromContext(r.Context()), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Roster.List(r.Context(), identityFromContext(r.Context()), r.URL.Query().Get("classId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Roster.Get(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "studentId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Drills

func (s *Server) handleScheduleDrill(w http.ResponseWriter, r *http.Request) {
	var req drills.ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	d, err := s.svc.Drills.Schedule(r.Context(), identityFromContext(r.Context()), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDrills(w http.ResponseWriter, r *http.Request) {
	status := drills.Status(r.URL.Query().Get("status"))
	list, err := s.svc.Drills.List(r.Context(), identityFromContext(r.Context()), status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDrill(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Drills.Get(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "drillId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleStartDrill(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Drills.Start(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "drillId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCompleteDrill(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Drills.Complete(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "drillId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req drills.CheckInRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	rec, err := s.svc.Drills.CheckIn(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "drillId"), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type overrideRequest struct {
	Attended *bool `json:"attended" validate:"required"`
}

func (s *Server) handleOverrideAttendance(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	d, err := s.svc.Drills.Override(r.Context(), identityFromContext(r.Context()),
		chi.URLParam(r, "drillId"), chi.URLParam(r, "studentId"), *req.Attended)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDrillRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Drills.Records(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "drillId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Alerts

func (s *Server) handleSendAlert(w http.ResponseWriter, r *http.Request) {
	var req alerts.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	a, err := s.svc.Alerts.Send(r.Context(), identityFromContext(r.Context()), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseBoolQuery(r, "active")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	list, err := s.svc.Alerts.List(r.Context(), identityFromContext(r.Context()), activeOnly)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Alerts.Get(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "alertId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Alerts.MarkRead(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "alertId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Alerts.Dismiss(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "alertId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Modules

func (s *Server) handleCompleteModule(w http.ResponseWriter, r *http.Request) {
	var req progress.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	c, err := s.svc.Progress.Complete(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "moduleId"), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Progress.List(r.Context(), identityFromContext(r.Context()), chi.URLParam(r, "studentId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Dashboard.Summary(r.Context(), identityFromContext(r.Context()))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
