package handlers

import (
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"studio/pkg/zip"
)

type assetResponse struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id,omitempty"`
	Origin    string `json:"origin"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (a *App) ListAssets(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	assets, err := a.Assets.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list assets")
		return
	}
	out := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		url := asset.SourceURL
		if asset.StorageKey != "" && a.Store != nil {
			url = a.Store.PublicURL(asset.StorageKey)
		}
		out = append(out, assetResponse{
			ID:        asset.ID,
			JobID:     asset.JobID,
			Origin:    string(asset.Origin),
			URL:       url,
			Format:    asset.Format,
			Width:     asset.Width,
			Height:    asset.Height,
			CreatedAt: asset.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"assets": out})
}

// DownloadAsset streams a single stored asset. When the asset belongs to a
// carousel job the response is a zip of every slide instead.
func (a *App) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	assetID := chi.URLParam(r, "id")
	asset, err := a.Assets.GetByID(r.Context(), assetID)
	if err != nil || asset.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
		return
	}
	if a.Store == nil || asset.StorageKey == "" {
		// Never mirrored; the provider URL is all we have.
		http.Redirect(w, r, asset.SourceURL, http.StatusTemporaryRedirect)
		return
	}

	siblings, err := a.Assets.ListByJobID(r.Context(), asset.JobID)
	if err == nil && len(siblings) > 1 {
		entries := make([]zip.Asset, 0, len(siblings))
		for i, sibling := range siblings {
			if sibling.StorageKey == "" {
				continue
			}
			data, readErr := a.Store.Read(r.Context(), sibling.StorageKey)
			if readErr != nil {
				continue
			}
			entries = append(entries, zip.Asset{
				Filename: fmt.Sprintf("slide-%02d%s", i+1, path.Ext(sibling.StorageKey)),
				MIME:     sibling.Format,
				Data:     data,
			})
		}
		if len(entries) > 1 {
			archive := zip.ArchiveAssets(entries)
			w.Header().Set("Content-Type", "application/zip")
			w.Header().Set("Content-Disposition", `attachment; filename="`+asset.JobID+`.zip"`)
			_, _ = w.Write(archive)
			return
		}
	}

	data, err := a.Store.Read(r.Context(), asset.StorageKey)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read asset")
		return
	}
	contentType := asset.Format
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(asset.StorageKey)+`"`)
	_, _ = w.Write(data)
}
