package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/polls"
)

const defaultPollLimit = 10

type PollResponse struct {
	models.Poll
	EndsAt  time.Time      `json:"ends_at"`
	Summary models.Summary `json:"summary"`
}

// CreatePollRequest starts a poll on behalf of the dashboard operator.
type CreatePollRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"min=1,max=60"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.registry.Groups(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, groups)
}

// group resolves the {group} URL parameter, writing 404 for unknown groups.
func (s *Server) group(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "group")
	if _, err := s.registry.Group(r.Context(), key); err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return key, true
}

func (s *Server) ListMembers(w http.ResponseWriter, r *http.Request) {
	group, ok := s.group(w, r)
	if !ok {
		return
	}
	roster, err := s.registry.Members(r.Context(), group)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(roster))
}

func (s *Server) ListPolls(w http.ResponseWriter, r *http.Request) {
	group, ok := s.group(w, r)
	if !ok {
		return
	}
	limit := defaultPollLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ErrorJSON(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.polls.Manager().ListPolls(r.Context(), group, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) CreatePoll(w http.ResponseWriter, r *http.Request) {
	group, ok := s.group(w, r)
	if !ok {
		return
	}
	req := CreatePollRequest{DurationMinutes: polls.DefaultDuration}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		ErrorJSON(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = describe(fe)
			}
			JSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return
		}
		s.fail(w, r, err)
		return
	}

	// The broadcast outlives the request.
	res, err := s.polls.Start(context.WithoutCancel(r.Context()), group, s.operator, req.DurationMinutes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{
		"poll_id":   res.PollID,
		"delivered": res.Delivered,
		"members":   res.Members,
		"scheduled": res.Scheduled,
	})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min", "max":
		return fmt.Sprintf("must be between %d and %d", polls.MinDuration, polls.MaxDuration)
	}
	return "is invalid"
}

func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	group, ok := s.group(w, r)
	if !ok {
		return
	}
	kind := models.MessageKind(r.URL.Query().Get("kind"))
	msgs, err := s.board.Messages(r.Context(), group, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) ListQuestions(w http.ResponseWriter, r *http.Request) {
	group, ok := s.group(w, r)
	if !ok {
		return
	}
	onlyPending := r.URL.Query().Get("status") == string(models.QuestionPending)
	qs, err := s.board.Questions(r.Context(), group, onlyPending)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(qs))
}

func (s *Server) GetPoll(w http.ResponseWriter, r *http.Request) {
	p, summary, _, err := s.polls.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, PollResponse{Poll: p, EndsAt: p.EndsAt(), Summary: summary})
}

func (s *Server) ExportPoll(w http.ResponseWriter, r *http.Request) {
	p, data, err := s.polls.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", polls.ExportFilename(p)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Log.Warnf("DASHBOARD: write export %s: %v", p.ID, err)
	}
}

// fail maps domain errors to status codes. Anything unknown is a 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, polls.ErrNotFound):
		ErrorJSON(w, http.StatusNotFound, "poll not found")
	case errors.Is(err, members.ErrUnknownGroup):
		ErrorJSON(w, http.StatusNotFound, "group not found")
	case errors.Is(err, polls.ErrUnauthorized):
		ErrorJSON(w, http.StatusForbidden, "no curator rights for this group")
	case polls.IsValidation(err):
		ErrorJSON(w, http.StatusBadRequest, err.Error())
	default:
		logging.Log.Errorf("DASHBOARD: %s %s: %v", r.Method, r.URL.Path, err)
		ErrorJSON(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
