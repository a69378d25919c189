package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/teammemory/teammemory/internal/api"
	"github.com/teammemory/teammemory/internal/api/middleware"
	"github.com/teammemory/teammemory/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, query string, mode service.SearchMode, filters service.SearchFilters) []*service.SearchResult
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query      string `json:"query"`
	Mode       string `json:"mode,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type SearchResultResponse struct {
	KnowledgeCardID string   `json:"knowledge_card_id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	MainAnswer      string   `json:"main_answer"`
	Tags            []string `json:"tags"`
	Score           float64  `json:"score"`
	CreatedAt       string   `json:"created_at"`
}

type SearchResponse struct {
	Results []*SearchResultResponse `json:"results"`
	Mode    string                  `json:"mode"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	mode := normalizeSearchMode(req.Mode)

	filters := service.SearchFilters{
		Tag:        strings.TrimSpace(strings.ToLower(req.Tag)),
		UserID:     userID,
		Visibility: req.Visibility,
		Limit:      req.Limit,
	}

	results := h.svc.Search(r.Context(), req.Query, mode, filters)

	responses := make([]*SearchResultResponse, len(results))
	for i, result := range results {
		responses[i] = &SearchResultResponse{
			KnowledgeCardID: result.KnowledgeCardID,
			Title:           result.Title,
			Summary:         result.Summary,
			MainAnswer:      result.MainAnswer,
			Tags:            result.Tags,
			Score:           result.Score,
			CreatedAt:       result.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}

	api.Success(w, http.StatusOK, SearchResponse{
		Results: responses,
		Mode:    string(mode),
	})
}

func normalizeSearchMode(value string) service.SearchMode {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "semantic":
		return service.SearchModeSemantic
	case "keyword":
		return service.SearchModeKeyword
	default:
		return service.SearchModeHybrid
	}
}
