package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"pastry/cfg"
	"pastry/pkg/domain"
	"pastry/svc/svc"
	"pastry/svc/util"
)

// noExpiryMarker is the wire spelling for "never expires", distinct from an
// absent field (which means "use the deployment default").
const noExpiryMarker = "never"

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type CreateReq struct {
	Content    string  `json:"content"`
	Title      string  `json:"title,omitempty"`
	Language   *string `json:"language,omitempty"`
	ExpiresIn  string  `json:"expires_in,omitempty"`
	LongID     bool    `json:"long_id,omitempty"`
	Visibility string  `json:"visibility,omitempty"`
}

type CreateResp struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Language  string     `json:"language"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ListResp struct {
	Pastes     []domain.Summary `json:"pastes"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}

	limit := h.cfg.MaxPasteSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if req.Content == "" {
		log.Warn().Msg("empty content")
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}
	if int64(len(req.Content)) > h.cfg.MaxPasteSize {
		log.Warn().Int("content_length", len(req.Content)).Msg("content exceeds maximum size")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}

	params := domain.CreateParams{
		Content:    sanitizeContent(req.Content),
		Title:      strings.TrimSpace(sanitizeContent(req.Title)),
		Language:   req.Language,
		LongID:     req.LongID,
		Visibility: domain.Visibility(req.Visibility),
	}
	switch req.ExpiresIn {
	case "":
	case noExpiryMarker:
		params.NoExpiry = true
	default:
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			log.Warn().Str("expires_in", req.ExpiresIn).Msg("invalid expiry")
			writeErr(w, domain.ErrInvalidDuration, requestID)
			return
		}
		params.Expiry = &d
	}

	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if e, ok := errors.Cause(err).(*domain.Err); ok {
			if e.Status >= 500 {
				log.Error().Err(err).Msg("failed to create paste")
			} else {
				log.Warn().Err(err).Msg("create rejected")
			}
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("language", paste.Language).
		Str("visibility", string(paste.Visibility)).
		Bool("long_id", params.LongID).
		Msg("paste created")
	resp := CreateResp{
		ID:        paste.ID,
		Title:     paste.Title,
		Language:  paste.Language,
		ExpiresAt: paste.ExpiresAt,
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		// Expired and never-existed both surface as not-found so expiry
		// timing cannot be probed.
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.paste.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("failed to delete paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		limit = n
	}
	summaries, next, err := h.paste.ListPublic(r.Context(), cursor, limit)
	if err != nil {
		if e, ok := errors.Cause(err).(*domain.Err); ok && e.Status < 500 {
			log.Warn().Err(err).Msg("list rejected")
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("list failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	if summaries == nil {
		summaries = []domain.Summary{}
	}
	json.NewEncoder(w).Encode(ListResp{Pastes: summaries, NextCursor: next})
}

func (h *Hdl) GetLanguages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.paste.Resolver().Languages())
}

func (h *Hdl) GetPresets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	presets := make([]string, len(h.cfg.ExpiryPresets))
	for i, d := range h.cfg.ExpiryPresets {
		presets[i] = d.String()
	}
	json.NewEncoder(w).Encode(presets)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("request failed")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      resp.Error.Msg,
		"code":       resp.Error.Code,
		"request_id": requestID,
	})
}

// sanitizeContent normalizes to NFC and strips control characters except
// whitespace; paste bodies stay raw text, escaping is a display concern.
func sanitizeContent(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
