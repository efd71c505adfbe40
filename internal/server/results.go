package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"polyscore/internal/domain"
	"polyscore/internal/engine"
	"polyscore/internal/repo"
)

// resolvePlayer maps the "me" alias to the authenticated player.
func resolvePlayer(ctx context.Context, player string) (string, error) {
	if player != "me" {
		return player, nil
	}
	id, authErr := playerFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	return id, nil
}

func registerResults(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-results",
		Method:      http.MethodGet,
		Path:        "/results",
		Summary:     "Completed attempts, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PlayerID  string `query:"player_id" doc:"Player id, or me"`
		SessionID string `query:"session_id"`
		Category  string `query:"category" enum:"timeout_partial,timeout,perfect,scored"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body resultList `json:"body"`
	}, error) {
		player, err := resolvePlayer(ctx, input.PlayerID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListResults(ctx, repo.ResultFilters{
			PlayerID:  player,
			SessionID: input.SessionID,
			Category:  input.Category,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body resultList `json:"body"`
		}{Body: resultList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "result-stats",
		Method:      http.MethodGet,
		Path:        "/results/stats",
		Summary:     "Aggregate scores",
	}, func(ctx context.Context, input *struct {
		PlayerID string `query:"player_id" doc:"Player id, or me; empty aggregates every player"`
	}) (*struct {
		Body statsResponse `json:"body"`
	}, error) {
		player, err := resolvePlayer(ctx, input.PlayerID)
		if err != nil {
			return nil, handleError(err)
		}
		stats, err := e.Repo.Stats(ctx, player)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body statsResponse `json:"body"`
		}{Body: statsResponse{PlayerID: player, ResultStats: stats}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-result",
		Method:      http.MethodGet,
		Path:        "/results/{id}",
		Summary:     "One completed attempt",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Result `json:"body"`
	}, error) {
		res, err := e.Repo.GetResult(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		SessionID  string `query:"session_id"`
		EntityKind string `query:"entity_kind" enum:"session,result"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilters{
			Type:       input.Type,
			SessionID:  input.SessionID,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
