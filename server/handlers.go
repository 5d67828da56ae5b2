package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/memory"
	"github.com/lembraai/lembra/store"
)

type turnMetaRequest struct {
	AffectiveCharge float32 `json:"affective_charge"`
	TensionLevel    float32 `json:"tension_level"`
	Depth           float32 `json:"depth"`
	HasTension      bool    `json:"has_tension"`
}

type recordTurnRequest struct {
	OwnerID   string           `json:"owner_id"`
	UserText  string           `json:"user_text"`
	AgentText string           `json:"agent_text"`
	Meta      *turnMetaRequest `json:"meta"`
}

type recordTurnResponse struct {
	UID      string   `json:"uid"`
	Topics   []string `json:"topics"`
	Entities []string `json:"entities"`
}

func (s *Server) handleRecordTurn(c echo.Context) error {
	var req recordTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OwnerID == "" || req.UserText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id and user_text are required")
	}

	var meta *memory.TurnMeta
	if req.Meta != nil {
		meta = &memory.TurnMeta{
			AffectiveCharge: req.Meta.AffectiveCharge,
			TensionLevel:    req.Meta.TensionLevel,
			Depth:           req.Meta.Depth,
			HasTension:      req.Meta.HasTension,
		}
	}

	ctx := c.Request().Context()
	item, err := s.engine.RecordTurn(ctx, req.OwnerID, req.UserText, req.AgentText, meta)
	if err != nil {
		slog.ErrorContext(ctx, "record turn failed",
			"request_id", c.Get("request_id"),
			"owner_id", req.OwnerID,
			"error", err,
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record turn")
	}

	return c.JSON(http.StatusOK, recordTurnResponse{
		UID:      item.UID,
		Topics:   item.Topics,
		Entities: item.Entities,
	})
}

type dialogueTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type buildContextRequest struct {
	OwnerID        string                `json:"owner_id"`
	CurrentInput   string                `json:"current_input"`
	RecentDialogue []dialogueTurnRequest `json:"recent_dialogue"`
}

type buildContextResponse struct {
	Context   string `json:"context"`
	Truncated bool   `json:"truncated"`
}

func (s *Server) handleBuildContext(c echo.Context) error {
	var req buildContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OwnerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id is required")
	}

	dialogue := make([]ai.Turn, len(req.RecentDialogue))
	for i, t := range req.RecentDialogue {
		dialogue[i] = ai.Turn{Role: t.Role, Content: t.Content}
	}

	ctx := c.Request().Context()
	payload, err := s.builder.BuildContext(ctx, req.OwnerID, req.CurrentInput, dialogue)
	if err != nil {
		slog.ErrorContext(ctx, "build context failed",
			"request_id", c.Get("request_id"),
			"owner_id", req.OwnerID,
			"error", err,
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build context")
	}

	return c.JSON(http.StatusOK, buildContextResponse{
		Context:   payload.Text,
		Truncated: payload.Truncated,
	})
}

type memoryItemResponse struct {
	UID          string   `json:"uid"`
	UserInput    string   `json:"user_input"`
	CreatedTs    int64    `json:"created_ts"`
	Topics       []string `json:"topics"`
	Intensity    float32  `json:"intensity"`
	Consolidated bool     `json:"consolidated"`
}

// handleListMemories is the audit listing: an owner's raw memory items,
// newest first, optionally narrowed by a CEL metadata filter such as
// `intensity > 0.8 && "trabalho" in topics`.
func (s *Server) handleListMemories(c echo.Context) error {
	ownerID := c.Param("ownerID")
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner id is required")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be in [1, 500]")
		}
		limit = parsed
	}

	ctx := c.Request().Context()
	items, err := s.Store.ListMemoryItems(ctx, &store.FindMemoryItem{
		OwnerID: &ownerID,
		Filter:  c.QueryParam("filter"),
		Limit:   limit,
	})
	if err != nil {
		var filterErr *store.FilterError
		if errors.As(err, &filterErr) {
			return echo.NewHTTPError(http.StatusBadRequest, filterErr.Error())
		}
		slog.ErrorContext(ctx, "memory listing failed",
			"request_id", c.Get("request_id"),
			"owner_id", ownerID,
			"error", err,
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list memories")
	}

	out := make([]memoryItemResponse, len(items))
	for i, item := range items {
		out[i] = memoryItemResponse{
			UID:          item.UID,
			UserInput:    item.UserInput,
			CreatedTs:    item.CreatedTs,
			Topics:       item.Topics,
			Intensity:    item.Intensity,
			Consolidated: item.ConsolidatedID != nil,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleEraseOwner(c echo.Context) error {
	ownerID := c.Param("ownerID")
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner id is required")
	}

	ctx := c.Request().Context()
	if err := s.engine.EraseOwner(ctx, ownerID); err != nil {
		slog.ErrorContext(ctx, "erase owner failed",
			"request_id", c.Get("request_id"),
			"owner_id", ownerID,
			"error", err,
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to erase owner")
	}
	return c.NoContent(http.StatusNoContent)
}
