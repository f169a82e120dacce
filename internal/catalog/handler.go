package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/teilehub/teilehub/internal/platform/httpx"
)

// Handler exposes catalog record management over JSON. The bulk import
// endpoints live in the importjob package.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog record routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/catalog/records", func(r chi.Router) {
		r.Get("/", h.listRecords)
		r.Get("/{id}", h.getRecord)
		r.Put("/{id}", h.updateRecord)
		r.Delete("/{id}", h.deleteRecord)
		r.Post("/{id}/restore", h.restoreRecord)
	})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if key := r.URL.Query().Get("key"); key != "" {
		rec, err := h.service.GetRecordByKey(r.Context(), key)
		if err != nil {
			httpx.LogAndRespond(h.logger, w, "get record by key", err)
			return
		}
		httpx.JSON(w, http.StatusOK, []DapartoRecord{rec})
		return
	}
	records, err := h.service.ListRecords(r.Context(), limit, offset)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "list records", err)
		return
	}
	if records == nil {
		records = []DapartoRecord{}
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "get record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type updateRecordRequest struct {
	InterneArtikelnummer  string  `json:"interne_artikelnummer" validate:"required"`
	Preis                 float64 `json:"preis"`
	Zustand               int     `json:"zustand"`
	Tiltle                string  `json:"tiltle"`
	TeilemarkeTeilenummer string  `json:"teilemarke_teilenummer"`
	Pfand                 float64 `json:"pfand"`
	Versandklasse         int     `json:"versandklasse"`
	Lieferzeit            int     `json:"lieferzeit"`
}

func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateRecordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rec, err := h.service.UpdateRecord(r.Context(), id, DapartoRecord{
		InterneArtikelnummer:  req.InterneArtikelnummer,
		Preis:                 req.Preis,
		Zustand:               req.Zustand,
		Tiltle:                req.Tiltle,
		TeilemarkeTeilenummer: req.TeilemarkeTeilenummer,
		Pfand:                 req.Pfand,
		Versandklasse:         req.Versandklasse,
		Lieferzeit:            req.Lieferzeit,
	})
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "update record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRecord(r.Context(), id); err != nil {
		httpx.LogAndRespond(h.logger, w, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restoreRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.RestoreRecord(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "restore record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}
