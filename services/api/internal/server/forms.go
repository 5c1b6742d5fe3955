package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
	"formpilot/services/api/internal/app"
)

type createFormRequest struct {
	FormDefinition domain.FormDefinition `json:"formDefinition"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	UserID         string                `json:"userId"`
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	form, err := s.app.CreateForm(r.Context(), app.CreateFormInput{
		UserID:      userID,
		Definition:  req.FormDefinition,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"formId":        form.ID,
		"shareableLink": form.ShareableLink,
		"shortLink":     form.ShortLink,
	})
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.app.GetPublicForm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	form.UserID = ""
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	forms, err := s.app.ListForms(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
}

func (s *Server) handleDeactivateForm(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	if err := s.app.DeactivateForm(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type submitRequest struct {
	FormData map[string]any `json:"formData"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := s.app.SubmitForm(r.Context(), app.SubmitInput{
		FormID:    chi.URLParam(r, "id"),
		Data:      req.FormData,
		IP:        util.ClientIP(r, s.trusted),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"submissionId": sub.ID})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	subs, err := s.app.ListSubmissions(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

type userRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	job, err := s.app.RequestExport(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "status": job.Status})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	job, err := s.app.ExportStatus(r.Context(), userID, chi.URLParam(r, "jobId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
