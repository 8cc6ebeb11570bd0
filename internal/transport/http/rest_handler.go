package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

// RESTHandler exposes submissions, history and stats over JSON.
type RESTHandler struct {
	service *app.QuizService
	log     logrus.FieldLogger
}

func NewRESTHandler(service *app.QuizService, log logrus.FieldLogger) *RESTHandler {
	return &RESTHandler{service: service, log: log}
}

// RouterConfig carries the HTTP-level knobs of NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the REST API, the analytics websocket and the health check.
func NewRouter(rest *RESTHandler, ws *WSHandler, log logrus.FieldLogger, cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", ws.ServeWS)

	r.Group(func(api chi.Router) {
		if cfg.RequestTimeout > 0 {
			api.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		rest.Routes(api)
	})
	return r
}

func (h *RESTHandler) Routes(r chi.Router) {
	r.Route("/quizzes/{quizID}", func(r chi.Router) {
		r.Post("/submissions", h.submit)
		r.Get("/analytics", h.analytics)
	})
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/stats", h.userStats)
		r.Get("/history", h.history)
		r.Get("/history/{historyID}", h.historyRecord)
	})
}

// maxSubmissionBody bounds the JSON accepted by the submission route.
const maxSubmissionBody = 1 << 20

type submitRequest struct {
	UserID    string           `json:"userId"`
	Answers   domain.AnswerSet `json:"answers"`
	TimeTaken int              `json:"timeTaken"`
}

func (h *RESTHandler) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBody)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.log, domain.NewValidationError("body", "request body too large"))
			return
		}
		writeError(w, h.log, domain.NewValidationError("body", "invalid JSON"))
		return
	}
	if req.UserID == "" {
		writeError(w, h.log, domain.NewValidationError("userId", "is required"))
		return
	}
	if req.TimeTaken < 0 {
		writeError(w, h.log, domain.NewValidationError("timeTaken", "must not be negative"))
		return
	}

	summary, err := h.service.Submit(r.Context(), chi.URLParam(r, "quizID"), req.UserID, req.Answers, req.TimeTaken)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *RESTHandler) analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.service.QuizAnalytics(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (h *RESTHandler) userStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.UserStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RESTHandler) history(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.service.History(r.Context(), chi.URLParam(r, "userID"), page, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *RESTHandler) historyRecord(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.HistoryRecord(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "historyID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// queryInt returns 0 for an absent parameter so the service applies its default.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
