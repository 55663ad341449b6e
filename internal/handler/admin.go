package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// maxUpload bounds admin form uploads.
const maxUpload = 10 << 20

// AdminHandler serves the catalog management forms. Every route sits
// behind session.RequireAdmin.
//
// The forms are multipart: a JSON part ("product" or "category") with the
// fields and a "file" part with the image, exactly what the backend expects.
type AdminHandler struct {
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(logger *slog.Logger) *AdminHandler {
	return &AdminHandler{logger: logger}
}

func (h *AdminHandler) HandleCreateCategory(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in model.CategoryInput
	upload, err := readForm(w, r, "category", &in)
	if err != nil {
		WriteError(w, err)
		return
	}
	in.Image = upload

	cat, err := s.CreateCategory(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("category created", slog.String("id", cat.ID.String()), slog.String("name", cat.Name))
	writeJSON(w, http.StatusCreated, cat)
}

func (h *AdminHandler) HandleCreateProduct(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in model.ProductInput
	upload, err := readForm(w, r, "product", &in)
	if err != nil {
		WriteError(w, err)
		return
	}
	in.Image = upload

	p, err := s.CreateProduct(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("product created", slog.String("id", p.ID.String()), slog.String("name", p.Name))
	writeJSON(w, http.StatusCreated, p)
}

func (h *AdminHandler) HandleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in model.ProductInput
	upload, err := readForm(w, r, "product", &in)
	if err != nil {
		WriteError(w, err)
		return
	}
	in.Image = upload

	id := chi.URLParam(r, "id")
	p, err := s.UpdateProduct(r.Context(), id, in)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("product updated", slog.String("id", id))
	writeJSON(w, http.StatusOK, p)
}

// readForm decodes the JSON field named part into dto and returns the
// optional "file" upload.
func readForm(w http.ResponseWriter, r *http.Request, part string, dto any) (*model.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, apperror.ValidationFailed("form", fmt.Sprintf("invalid multipart form: %v", err))
	}

	raw := r.FormValue(part)
	if raw == "" {
		return nil, apperror.ValidationFailed(part, part+" details are required")
	}
	if err := json.Unmarshal([]byte(raw), dto); err != nil {
		return nil, apperror.ValidationFailed(part, fmt.Sprintf("invalid %s details: %v", part, err))
	}

	f, hdr, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ValidationFailed("file", fmt.Sprintf("invalid file: %v", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperror.ValidationFailed("file", fmt.Sprintf("reading file: %v", err))
	}
	return &model.Upload{Filename: hdr.Filename, Data: data}, nil
}
