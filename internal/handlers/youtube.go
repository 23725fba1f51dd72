package handlers

import (
	"errors"
	"net/http"

	"github.com/queueup/backend/internal/models"
	"github.com/queueup/backend/internal/services"
)

const searchLimit = 20

// YouTubeHandler serves video search for building requests.
type YouTubeHandler struct {
	youtubeService *services.YouTubeService
}

// NewYouTubeHandler creates a YouTubeHandler with the given YouTube service.
func NewYouTubeHandler(youtubeService *services.YouTubeService) *YouTubeHandler {
	return &YouTubeHandler{youtubeService: youtubeService}
}

// Search handles video search queries, returning matching videos from YouTube.
func (h *YouTubeHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	videos, err := h.youtubeService.Search(r.Context(), query, searchLimit)
	if errors.Is(err, services.ErrSearchUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusBadGateway, "search failed", err)
		return
	}

	response := models.YouTubeSearchResponse{
		Videos: make([]models.YouTubeVideoResponse, len(videos)),
	}

	for i, video := range videos {
		response.Videos[i] = models.YouTubeVideoResponse{
			ID:           video.ID,
			Title:        video.Title,
			ChannelTitle: video.ChannelTitle,
			ThumbnailURL: video.ThumbnailURL,
			DurationMS:   video.DurationMS,
		}
	}

	writeJSON(w, http.StatusOK, response)
}
