package extractor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxScrapeRequestSize はスクレイプ要求ボディの上限。
const maxScrapeRequestSize = 64 * 1024

// ScrapeHandler はブリッジ契約のHTTPハンドラー。
type ScrapeHandler struct {
	extractor Extractor
	logger    *slog.Logger
}

// NewScrapeHandler はScrapeHandlerを生成する。
func NewScrapeHandler(extractor Extractor, logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{
		extractor: extractor,
		logger:    logger,
	}
}

// Routes は POST /scrape と GET /healthz を持つルーターを返す。
func (h *ScrapeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Post("/scrape", h.Scrape)
	return r
}

// Healthz は死活監視用に {"status":"ok"} を返す。
func (h *ScrapeHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Scrape はURLの本文を抽出して返す。
// POST /scrape
func (h *ScrapeHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScrapeRequestSize)).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body: expected {\"url\": string}.")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "Field 'url' is required.")
		return
	}

	result, err := h.extractor.Extract(r.Context(), req.URL)
	if err != nil {
		var extractErr *ExtractError
		if errors.As(err, &extractErr) {
			writeDetail(w, extractErr.Status, extractErr.Detail)
			return
		}
		h.logger.Error("スクレイプ処理で予期しないエラーが発生しました",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		fallback := newScrapingFailedError(err)
		writeDetail(w, fallback.Status, fallback.Detail)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
