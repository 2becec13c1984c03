package dashboard

import (
	"crypto/subtle"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/nikitkaralius/curatorbot/internal/board"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/polls"
)

const TokenHeader = "X-Dashboard-Token"

// Server is the read-mostly HTTP view over groups, polls and the board.
type Server struct {
	registry *members.Registry
	polls    *polls.Service
	board    *board.Board
	token    string
	operator int64
	validate *validator.Validate
}

// New builds the dashboard. Requests carrying token act as operator, which
// is normally the admin. With an empty token every route but health is
// refused.
func New(registry *members.Registry, svc *polls.Service, b *board.Board, token string, operator int64) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{registry: registry, polls: svc, board: b, token: token, operator: operator, validate: v}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		logging.Log.Infof("DASHBOARD: no route for %s", r.URL.Path)
		ErrorJSON(w, http.StatusNotFound, "page not found")
	})

	r.Get("/api/health", s.Health)

	r.Group(func(r chi.Router) {
		r.Use(s.tokenAuth)

		r.Get("/api/groups", s.ListGroups)
		r.Get("/api/groups/{group}/members", s.ListMembers)
		r.Get("/api/groups/{group}/polls", s.ListPolls)
		r.Post("/api/groups/{group}/polls", s.CreatePoll)
		r.Get("/api/groups/{group}/messages", s.ListMessages)
		r.Get("/api/groups/{group}/questions", s.ListQuestions)
		r.Get("/api/polls/{id}", s.GetPoll)
		r.Get("/api/polls/{id}/export", s.ExportPoll)
	})
	return r
}

func (s *Server) tokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			ErrorJSON(w, http.StatusServiceUnavailable, "dashboard token is not configured")
			return
		}
		got := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			logging.Log.Warnf("DASHBOARD: unauthorized access attempt to %s", r.URL.Path)
			ErrorJSON(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
