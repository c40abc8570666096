package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/castkit/mediacache/internal/cache"
	"github.com/castkit/mediacache/internal/logctx"
	"github.com/castkit/mediacache/internal/policy"
	"github.com/castkit/mediacache/internal/settings"
	"github.com/castkit/mediacache/internal/storage"
	"github.com/go-chi/chi/v5"
)

// CacheHandler exposes the orchestrator's triggers over HTTP. It is the
// daemon's only ingress; the repository itself stays transport-agnostic.
type CacheHandler struct {
	repo      *cache.FileRepository
	queueRepo storage.QueueRepository
	prefs     settings.Store

	// guard is shared with every other preload trigger in the process so a
	// REST-triggered run can never overlap a ticker- or resume-triggered one.
	guard *cache.RunGuard
}

func NewCacheHandler(repo *cache.FileRepository, queueRepo storage.QueueRepository, prefs settings.Store, guard *cache.RunGuard) *CacheHandler {
	if guard == nil {
		guard = &cache.RunGuard{}
	}

	return &CacheHandler{
		repo:      repo,
		queueRepo: queueRepo,
		prefs:     prefs,
		guard:     guard,
	}
}

func (h *CacheHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealth)
	r.Get("/resolve", h.handleResolve)
	r.Post("/preload", h.handlePreload)
	r.Post("/preload/queue", h.handlePreloadQueue)
	r.Delete("/transfers", h.handleCancelTransfer)
	r.Delete("/cache", h.handleRemoveCachedFile)
	r.Get("/settings", h.handleGetSettings)
	r.Put("/settings", h.handlePutSettings)
	r.Post("/queue", h.handleQueueAdd)
	r.Delete("/queue/{episodeID}", h.handleQueueRemove)

	return r
}

type resolveResponse struct {
	URL       string `json:"url"`
	LocalPath string `json:"localPath,omitempty"`
	Local     bool   `json:"local"`
}

type denialResponse struct {
	Denied bool   `json:"denied"`
	Reason string `json:"reason"`
}

type settingsPayload struct {
	AllowCellularDownloads bool `json:"allowCellularDownloads"`
	AllowCellularStreaming bool `json:"allowCellularStreaming"`
	AutomaticDownloads     bool `json:"automaticDownloads"`
}

type queueAddPayload struct {
	EpisodeID    string `json:"episodeId"`
	EnclosureURL string `json:"enclosureUrl"`
}

func (h *CacheHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CacheHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)

		return
	}

	allowStreaming := r.URL.Query().Get("stream") == "true"

	ref, err := h.repo.Resolve(r.Context(), rawURL, allowStreaming)
	if err != nil {
		var denial *policy.Denial
		if errors.As(err, &denial) {
			writeJSON(w, http.StatusConflict, denialResponse{Denied: true, Reason: denial.Reason.String()})

			return
		}

		logctx.LoggerFromContext(r.Context()).Error("resolve failed", "url", rawURL, "err", err)
		http.Error(w, "resolve failed", http.StatusBadGateway)

		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{URL: ref.URL, LocalPath: ref.LocalPath, Local: ref.IsLocal()})
}

func (h *CacheHandler) handlePreload(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)

		return
	}

	h.repo.Preload(r.Context(), rawURL)
	w.WriteHeader(http.StatusAccepted)
}

func (h *CacheHandler) handlePreloadQueue(w http.ResponseWriter, r *http.Request) {
	if !h.guard.TryBegin() {
		http.Error(w, "preload already in progress", http.StatusConflict)

		return
	}

	removeStale := r.URL.Query().Get("removeStale") == "true"

	// The run outlives the request; detach from its cancellation but keep
	// the request-scoped logger.
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		defer h.guard.End()

		if err := h.repo.PreloadQueue(bgCtx, removeStale); err != nil {
			logctx.LoggerFromContext(bgCtx).Error("queue preload failed", "err", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (h *CacheHandler) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)

		return
	}

	h.repo.CancelTransfer(r.Context(), rawURL)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) handleRemoveCachedFile(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)

		return
	}

	if err := h.repo.RemoveCachedFile(r.Context(), rawURL); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to remove cached file", "url", rawURL, "err", err)
		http.Error(w, "failed to remove cached file", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	p := h.prefs.Snapshot()

	writeJSON(w, http.StatusOK, settingsPayload{
		AllowCellularDownloads: p.AllowCellularDownloads,
		AllowCellularStreaming: p.AllowCellularStreaming,
		AutomaticDownloads:     p.AutomaticDownloads,
	})
}

func (h *CacheHandler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)

		return
	}

	err := h.prefs.Update(policy.UserDataPolicy{
		AllowCellularDownloads: payload.AllowCellularDownloads,
		AllowCellularStreaming: payload.AllowCellularStreaming,
		AutomaticDownloads:     payload.AutomaticDownloads,
	})
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to update settings", "err", err)
		http.Error(w, "failed to update settings", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var payload queueAddPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.EpisodeID == "" {
		http.Error(w, "invalid queue payload", http.StatusBadRequest)

		return
	}

	if err := h.queueRepo.Add(payload.EpisodeID, payload.EnclosureURL); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to queue episode", "episode_id", payload.EpisodeID, "err", err)
		http.Error(w, "failed to queue episode", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *CacheHandler) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")

	if err := h.queueRepo.Remove(episodeID); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to dequeue episode", "episode_id", episodeID, "err", err)
		http.Error(w, "failed to dequeue episode", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
