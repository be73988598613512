package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/into-the-night/fin-breaker/internal/agent/core"
	"github.com/into-the-night/fin-breaker/internal/capability"
	"github.com/into-the-night/fin-breaker/internal/scheduler"
)

// Handler serves the question, conversation, tool and brief endpoints.
type Handler struct {
	App *App
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/ask", h.ask)
	g.GET("/conversations/:id", h.conversation)
	g.GET("/conversations/:id/status", h.status)
	g.DELETE("/conversations/:id/run", h.cancel)
	g.GET("/tools", h.listTools)
	g.POST("/tools/:name", h.callTool)
	g.POST("/orchestrator/morning_brief", h.morningBrief)
	g.GET("/briefs", h.briefs)
	g.GET("/ops/active", h.active)
	g.GET("/ops/metrics", h.metrics)
}

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

func (h *Handler) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.App.Orch.Run(c.Request().Context(), req.Question, req.ConversationID)
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) conversation(c echo.Context) error {
	state, err := h.App.Orch.Conversation(c.Request().Context(), c.Param("id"))
	if errors.Is(err, core.ErrStateNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

func (h *Handler) status(c echo.Context) error {
	status, ok := h.App.Orch.GetStatus(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no run in progress")
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) cancel(c echo.Context) error {
	if !h.App.Orch.CancelProcessing(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "no run in progress")
	}
	return c.NoContent(http.StatusAccepted)
}

// listTools returns the catalog; the registry checksum doubles as ETag.
func (h *Handler) listTools(c echo.Context) error {
	reg := h.App.Orch.Registry()
	etag := `"` + reg.Checksum() + `"`
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	c.Response().Header().Set("ETag", etag)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"checksum": reg.Checksum(),
		"tools":    reg.Catalog(),
	})
}

type toolRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
}

// callTool runs one tool outside the loop. Tool failures are reported in the
// evidence record, not as HTTP errors.
func (h *Handler) callTool(c echo.Context) error {
	name := c.Param("name")
	reg := h.App.Orch.Registry()
	if _, err := reg.Resolve(name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var req toolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Arguments == nil {
		req.Arguments = map[string]interface{}{}
	}
	if err := reg.Validate(name, req.Arguments); err != nil {
		if errors.Is(err, capability.ErrInvalidArguments) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	rec := h.App.Orch.Toolbox().Call(c.Request().Context(), core.ToolCall{Name: name, Arguments: req.Arguments})
	return c.JSON(http.StatusOK, rec)
}

type morningBriefRequest struct {
	Question       string `json:"question"`
	Audio          string `json:"audio"` // base64
	AudioFilename  string `json:"audio_filename"`
	ConversationID string `json:"conversation_id"`
}

type morningBriefResponse struct {
	Transcript     string       `json:"transcript,omitempty"`
	Answer         string       `json:"answer"`
	Outcome        core.Outcome `json:"outcome"`
	ConversationID string       `json:"conversation_id"`
	Audio          string       `json:"audio,omitempty"` // base64 mp3
}

func (h *Handler) morningBrief(c echo.Context) error {
	var req morningBriefRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	question := strings.TrimSpace(req.Question)
	var transcript string
	if question == "" && req.Audio != "" {
		if h.App.Voice == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "voice is disabled")
		}
		audio, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "audio must be base64")
		}
		transcript, err = h.App.Voice.Transcribe(ctx, audio, req.AudioFilename)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		question = transcript
	}
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question or audio is required")
	}

	res, err := h.App.Orch.Run(ctx, question, req.ConversationID)
	if err != nil {
		return runError(err)
	}
	out := morningBriefResponse{
		Transcript:     transcript,
		Answer:         res.Output,
		Outcome:        res.Outcome,
		ConversationID: res.ConversationID,
	}
	if h.App.Voice != nil {
		speech, err := h.App.Voice.Speak(ctx, res.Output)
		if err != nil {
			c.Logger().Errorf("speech synthesis failed: %v", err)
		} else {
			out.Audio = base64.StdEncoding.EncodeToString(speech)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) briefs(c echo.Context) error {
	if h.App.Scheduler == nil {
		return c.JSON(http.StatusOK, []scheduler.BriefResult{})
	}
	return c.JSON(http.StatusOK, h.App.Scheduler.Latest())
}

func (h *Handler) active(c echo.Context) error {
	return c.JSON(http.StatusOK, h.App.Orch.ListActive())
}

func (h *Handler) metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.App.Telemetry.GetMetrics())
}

// runError maps loop errors onto HTTP statuses.
func runError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrEmptyQuestion):
		code = http.StatusBadRequest
	case errors.Is(err, core.ErrConversationBusy), errors.Is(err, core.ErrQuestionMismatch):
		code = http.StatusConflict
	case errors.Is(err, core.ErrDependency):
		code = http.StatusBadGateway
	case errors.Is(err, core.ErrPersistence):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
