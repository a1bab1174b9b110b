package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ivg/internal/faults"
	"ivg/internal/imaging"
	"ivg/internal/store"
)

// handleUpload stores an image sent as a multipart "file" field or as the raw
// request body. Raw uploads may name the file with ?filename=.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)

	data, filename, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				faults.Input(fmt.Sprintf("upload exceeds %d bytes", s.deps.MaxUploadBytes), nil))
			return
		}
		s.writeError(w, http.StatusBadRequest, faults.Input("read upload", err))
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, faults.Input("upload is empty", nil))
		return
	}

	cfg, contentType, err := imaging.DecodeConfig(data)
	if err != nil {
		s.writeError(w, http.StatusUnsupportedMediaType, faults.Input("upload is not a supported image", err))
		return
	}
	if filename == "" {
		filename = "upload." + strings.TrimPrefix(contentType, "image/")
	}
	if !imaging.AllowedExtension(filename, s.deps.AllowedExtensions) {
		s.writeError(w, http.StatusUnsupportedMediaType,
			faults.Input(fmt.Sprintf("file extension of %q is not allowed", filename), nil))
		return
	}

	id, err := s.deps.Assets.Put(r.Context(), ownerFrom(r), data, contentType, store.RoleUpload, filename)
	if err != nil {
		s.writeError(w, 0, faults.Storage("store upload", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, UploadResponse{
		AssetID:     id,
		ContentType: contentType,
		Size:        int64(len(data)),
		Width:       cfg.Width,
		Height:      cfg.Height,
	})
}

func readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		return data, header.Filename, err
	}
	data, err := io.ReadAll(r.Body)
	return data, strings.TrimSpace(r.URL.Query().Get("filename")), err
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.deps.Assets.Get(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	s.writeImage(w, asset)
}

func (s *Server) writeImage(w http.ResponseWriter, asset store.Asset) {
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Data)
}

func (s *Server) handleListStyles(w http.ResponseWriter, r *http.Request) {
	styles, err := s.deps.Styles.List(r.Context())
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	if styles == nil {
		styles = []store.Style{}
	}
	s.writeJSON(w, http.StatusOK, StyleListResponse{Styles: styles})
}

func (s *Server) handleCreateStyle(w http.ResponseWriter, r *http.Request) {
	var req StyleCreateRequest
	limit := s.deps.MaxUploadBytes*4/3 + maxJSONBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, faults.Input("invalid request body", err))
		return
	}
	reference, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Reference))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, faults.Input("reference_base64 is not valid base64", err))
		return
	}
	if bytes.Equal(bytes.TrimSpace(req.Profile), []byte("null")) {
		req.Profile = nil
	}
	style, err := s.deps.Styles.Create(r.Context(), store.NewStyle{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Rules:       req.Rules,
		Reference:   reference,
		Profile:     req.Profile,
	})
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, style)
}

func (s *Server) handleStyleReference(w http.ResponseWriter, r *http.Request) {
	style, err := s.deps.Styles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	asset, err := s.deps.Assets.Get(r.Context(), store.StylesScope, style.ReferenceAssetID)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	s.writeImage(w, asset)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.deps.History.List(r.Context(), ownerFrom(r), limit)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}
