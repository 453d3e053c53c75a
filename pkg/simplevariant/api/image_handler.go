package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

// DefaultMaxUploadBytes bounds the size of an uploaded original.
const DefaultMaxUploadBytes = 20 << 20

// ImageHandler handles image upload and lookup API endpoints
type ImageHandler struct {
	service        simplevariant.Service
	maxUploadBytes int64
}

// NewImageHandler creates an image handler. maxUploadBytes <= 0 selects DefaultMaxUploadBytes.
func NewImageHandler(service simplevariant.Service, maxUploadBytes int64) *ImageHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ImageHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the router for image endpoints
func (h *ImageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.UploadImage)
	r.Post("/batch", h.BatchBestURLs)
	r.Get("/{id}", h.GetImage)
	r.Get("/{id}/best", h.BestURL)
	r.Get("/{id}/variants", h.GetVariants)
	return r
}

// ImageResponse represents an original image
type ImageResponse struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// BestURLResponse is the selected URL for one image
type BestURLResponse struct {
	ImageID string `json:"image_id"`
	URL     string `json:"url"`
	Variant string `json:"variant"`
}

// VariantsResponse lists every known variant of an image
type VariantsResponse struct {
	ImageID     string               `json:"image_id"`
	OriginalURL string               `json:"original_url"`
	Variants    simplevariant.Assets `json:"variants"`
}

// BatchRequest represents a batch lookup
type BatchRequest struct {
	IDs        []string `json:"ids"`
	Variant    string   `json:"variant,omitempty"`
	Width      int      `json:"width,omitempty"`
	PreferWebP *bool    `json:"prefer_webp,omitempty"`
}

// BatchResult is the selection for one image of a batch
type BatchResult struct {
	URL     string `json:"url"`
	Variant string `json:"variant"`
}

// BatchResponse maps image id to its selection. Unknown ids are omitted.
type BatchResponse struct {
	Results map[string]BatchResult `json:"results"`
}

func newImageResponse(original *simplevariant.Original) ImageResponse {
	return ImageResponse{
		ID:          original.ID.String(),
		URL:         original.URL,
		Width:       original.Width,
		Height:      original.Height,
		Format:      original.Format,
		ContentType: original.ContentType,
		SizeBytes:   original.SizeBytes,
		CreatedAt:   original.CreatedAt,
	}
}

// UploadImage stores a multipart "file" as a new original and generates its variants
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload_too_large", "upload exceeds "+strconv.FormatInt(maxErr.Limit, 10)+" bytes")
			return
		}
		slog.Error("Failed to read upload", "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_upload", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("Failed to read upload body", "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	original, err := h.service.UploadOriginal(r.Context(), simplevariant.UploadOriginalRequest{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		slog.Error("Failed to upload image", "filename", header.Filename, "error", err)
		writeServiceError(w, r, err)
		return
	}

	slog.Info("Image uploaded", "image_id", original.ID, "size", original.SizeBytes)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newImageResponse(original))
}

// GetImage returns the original's metadata
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(w, r)
	if !ok {
		return
	}

	original, err := h.service.GetOriginal(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, newImageResponse(original))
}

// BestURL answers the best URL for ?variant=&width=&prefer_webp=. With
// ?redirect=1 it redirects to that URL instead.
func (h *ImageHandler) BestURL(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(w, r)
	if !ok {
		return
	}

	req, err := parseSelectRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	selection, err := h.service.BestURL(r.Context(), id, req)
	if err != nil {
		slog.Error("Failed to resolve best url", "image_id", id, "error", err)
		writeServiceError(w, r, err)
		return
	}

	if redirect, _ := strconv.ParseBool(r.URL.Query().Get("redirect")); redirect && selection.URL != "" {
		http.Redirect(w, r, selection.URL, http.StatusFound)
		return
	}
	render.JSON(w, r, BestURLResponse{
		ImageID: selection.ImageID.String(),
		URL:     selection.URL,
		Variant: selection.Variant,
	})
}

// GetVariants lists the image's variants
func (h *ImageHandler) GetVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(w, r)
	if !ok {
		return
	}

	entry, err := h.service.Variants(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list variants", "image_id", id, "error", err)
		writeServiceError(w, r, err)
		return
	}

	variants := entry.Assets
	if variants == nil {
		variants = simplevariant.Assets{}
	}
	render.JSON(w, r, VariantsResponse{
		ImageID:     id.String(),
		OriginalURL: entry.OriginalURL,
		Variants:    variants,
	})
}

// BatchBestURLs resolves up to simplevariant.MaxBatchSize images in one call
func (h *ImageHandler) BatchBestURLs(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(req.IDs) > simplevariant.MaxBatchSize {
		writeError(w, r, http.StatusBadRequest, "too_many_images",
			"at most "+strconv.Itoa(simplevariant.MaxBatchSize)+" ids per request")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_id", "invalid image id: "+raw)
			return
		}
		ids = append(ids, id)
	}

	preferWebP := true
	if req.PreferWebP != nil {
		preferWebP = *req.PreferWebP
	}
	selections, err := h.service.BatchBestURLs(r.Context(), ids, simplevariant.SelectRequest{
		Variant:       req.Variant,
		Width:         req.Width,
		PreferCompact: preferWebP,
	})
	if err != nil {
		slog.Error("Failed to resolve batch", "count", len(ids), "error", err)
		writeServiceError(w, r, err)
		return
	}

	resp := BatchResponse{Results: make(map[string]BatchResult, len(selections))}
	for id, selection := range selections {
		resp.Results[id.String()] = BatchResult{URL: selection.URL, Variant: selection.Variant}
	}
	render.JSON(w, r, resp)
}

// Stats reports per-variant coverage and sizes
func (h *ImageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to compute variant stats", "error", err)
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

func parseSelectRequest(r *http.Request) (simplevariant.SelectRequest, error) {
	query := r.URL.Query()
	req := simplevariant.SelectRequest{
		Variant:       query.Get("variant"),
		PreferCompact: true,
	}

	if raw := query.Get("width"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width < 0 {
			return req, errors.New("width must be a non-negative integer")
		}
		req.Width = width
	}
	if raw := query.Get("prefer_webp"); raw != "" {
		prefer, err := strconv.ParseBool(raw)
		if err != nil {
			return req, errors.New("prefer_webp must be a boolean")
		}
		req.PreferCompact = prefer
	}
	return req, nil
}

func parseImageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Error("Invalid image ID", "image_id", idStr, "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_id", "invalid image id")
		return uuid.Nil, false
	}
	return id, true
}
