// Package httpapi is the HTTP control surface: status, manual check, ad-hoc
// search, health probe and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/aculclasure/coderelay/internal/core/processor"
	"github.com/aculclasure/coderelay/internal/scheduler"
)

// MaxSearchResults caps the ids counted by POST /search.
const MaxSearchResults = 10

// Ingestion is the scheduler as seen by the control surface.
type Ingestion interface {
	Trigger(ctx context.Context) (processor.CycleReport, error)
	LastRun() (scheduler.LastRun, bool)
}

type Searcher interface {
	Find(ctx context.Context, q processor.EmailQuery) (processor.EmailQueryResult, error)
}

type HealthState interface {
	State() processor.FailureState
}

// Deps wires the router. Ingestion and Searcher are nil when no mailbox is
// configured; Health and Metrics are optional.
type Deps struct {
	Ingestion    Ingestion
	Searcher     Searcher
	Health       HealthState
	Metrics      http.Handler
	Provider     string
	Sinks        []string
	PollInterval time.Duration
	Logger       zerolog.Logger
}

type handler struct {
	Deps
}

// NewRouter returns the gin engine serving the control surface.
func NewRouter(deps Deps) *gin.Engine {
	h := &handler{Deps: deps}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	r.GET("/", h.status)
	r.POST("/check", h.check)
	r.POST("/search", h.search)
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	return r
}

type statusResponse struct {
	Status        string           `json:"status"`
	Message       string           `json:"message"`
	PollInterval  string           `json:"poll_interval"`
	Provider      string           `json:"provider"`
	Sinks         []string         `json:"sinks"`
	Configuration configuration    `json:"configuration"`
	Ingestion     *ingestionStatus `json:"ingestion,omitempty"`
	LastCycle     *lastCycle       `json:"last_cycle,omitempty"`
}

type configuration struct {
	Mailbox  string `json:"mailbox"`
	Notifier string `json:"notifier"`
}

type ingestionStatus struct {
	Down      bool       `json:"down"`
	LastError string     `json:"last_error,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
}

type lastCycle struct {
	At         time.Time             `json:"at"`
	DurationMS int64                 `json:"duration_ms"`
	Manual     bool                  `json:"manual"`
	Error      string                `json:"error,omitempty"`
	Report     processor.CycleReport `json:"report"`
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}

func (h *handler) status(c *gin.Context) {
	resp := statusResponse{
		Status:       "running",
		Message:      "polling mailbox for verification codes",
		PollInterval: h.PollInterval.String(),
		Provider:     h.Provider,
		Sinks:        h.Sinks,
		Configuration: configuration{
			Mailbox:  configured(h.Ingestion != nil),
			Notifier: configured(len(h.Sinks) > 0),
		},
	}
	if resp.Sinks == nil {
		resp.Sinks = []string{}
	}
	if h.Ingestion == nil {
		resp.Status = "setup_required"
		resp.Message = "mailbox credentials missing, run coderelay setup"
	} else if last, ok := h.Ingestion.LastRun(); ok {
		resp.LastCycle = &lastCycle{
			At:         last.At,
			DurationMS: last.Duration.Milliseconds(),
			Manual:     last.Manual,
			Report:     last.Report,
		}
		if last.Err != nil {
			resp.LastCycle.Error = last.Err.Error()
		}
	}
	if h.Health != nil {
		st := h.Health.State()
		resp.Ingestion = &ingestionStatus{Down: st.Down, LastError: st.LastError}
		if st.Down {
			since := st.FailedAt
			resp.Ingestion.Since = &since
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) check(c *gin.Context) {
	if h.Ingestion == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mailbox is not configured"})
		return
	}
	report, err := h.Ingestion.Trigger(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "check complete", "report": report})
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
}

func (h *handler) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must contain a non-empty query"})
		return
	}
	if h.Searcher == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mailbox is not configured"})
		return
	}
	res, err := h.Searcher.Find(c.Request.Context(), processor.EmailQuery{
		SearchExpression: req.Query,
		MaxResults:       MaxSearchResults,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ids := res.MatchingEmails
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "count": len(ids), "message_ids": ids})
}

func requestLogger(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}
