package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/atelierhq/atelier/internal/ctxkeys"
	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/service"
)

type UploadHandler struct {
	uploadService  *service.UploadService
	billingService *service.BillingService

	// uploadCost is charged per prepare. Zero means uploads are free and
	// the ledger is never touched on this path.
	uploadCost int
}

func NewUploadHandler(uploadService *service.UploadService, billingService *service.BillingService, uploadCost int) *UploadHandler {
	return &UploadHandler{
		uploadService:  uploadService,
		billingService: billingService,
		uploadCost:     uploadCost,
	}
}

type prepareRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

type prepareResponse struct {
	AssetID   string    `json:"asset_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Prepare reserves an upload and returns the signed PUT URL. Rate limiting
// ran in middleware; the credit gate runs here before any storage work.
func (h *UploadHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	workspaceID := ctxkeys.WorkspaceID(r.Context())
	userID := ctxkeys.UserID(r.Context())

	var req prepareRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	_, err = h.billingService.TryDeduct(r.Context(), workspaceID, h.uploadCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	prepared, err := h.uploadService.Prepare(r.Context(), workspaceID, userID, req.Filename, req.MimeType, req.Size, req.Checksum)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, prepareResponse{
		AssetID:   prepared.AssetID,
		UploadURL: prepared.UploadURL,
		ExpiresAt: prepared.ExpiresAt,
	})
}

type confirmRequest struct {
	Checksum string `json:"checksum,omitempty"`
}

type assetResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Status       string    `json:"status"`
	Checksum     string    `json:"checksum,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAssetResponse(a *model.Asset) assetResponse {
	resp := assetResponse{
		ID:        a.ID,
		Name:      a.Name,
		MimeType:  a.MimeType,
		Size:      a.Size,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
	if a.Checksum != nil {
		resp.Checksum = *a.Checksum
	}
	if a.ErrorMessage != nil {
		resp.ErrorMessage = *a.ErrorMessage
	}
	return resp
}

func (h *UploadHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("id")

	var req confirmRequest
	if r.ContentLength > 0 {
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	asset, err := h.uploadService.Confirm(r.Context(), assetID, req.Checksum)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAssetResponse(asset))
}

func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	workspaceID := ctxkeys.WorkspaceID(r.Context())
	assetID := r.PathValue("id")

	url, err := h.uploadService.DownloadURL(r.Context(), workspaceID, assetID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"download_url": url})
}

type batchDownloadRequest struct {
	AssetIDs []string `json:"asset_ids"`
}

func (h *UploadHandler) BatchDownload(w http.ResponseWriter, r *http.Request) {
	workspaceID := ctxkeys.WorkspaceID(r.Context())

	var req batchDownloadRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.AssetIDs) == 0 || len(req.AssetIDs) > 100 {
		http.Error(w, "asset_ids must contain between 1 and 100 ids", http.StatusBadRequest)
		return
	}

	urls, err := h.uploadService.BatchDownloadURLs(r.Context(), workspaceID, req.AssetIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"download_urls": urls})
}

func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	workspaceID := ctxkeys.WorkspaceID(r.Context())
	assetID := r.PathValue("id")

	err := h.uploadService.Delete(r.Context(), workspaceID, assetID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
