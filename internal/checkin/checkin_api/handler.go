package checkin_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/badge"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

// Service is what the handlers need from the check-in service, split out so
// handler tests can stub it.
type Service interface {
	VerifyAndCheckin(ctx context.Context, code, staffID, notes string) (*models.CheckinResult, error)
	CollectSwag(ctx context.Context, checkinID, itemID, staffID string) (*models.SwagCollection, error)
	UndoCheckin(ctx context.Context, checkinID, staffID string) (*models.Ticket, error)
	GetCheckin(ctx context.Context, checkinID string) (*models.CheckIn, error)
	SearchTickets(ctx context.Context, eventID, query string) ([]models.Ticket, error)
	Stats(ctx context.Context, eventID string) (*models.CheckinStats, error)
	SwagItems(ctx context.Context, eventID string) ([]models.SwagItemWithCount, error)
	UncollectedSwag(ctx context.Context, checkinID string) ([]models.SwagItem, error)
	RecentCheckins(ctx context.Context, eventID string) ([]models.CheckIn, error)
	CreateSwagItem(ctx context.Context, eventID, name string, quantity int, description string) (*models.SwagItem, error)
	OfflinePack(ctx context.Context, eventID string) (*models.OfflinePack, error)
	SyncOffline(ctx context.Context, entries []models.SyncEntry, staffID string) []models.SyncResult
	SyncSwagCollections(ctx context.Context, entries []models.SyncSwagEntry, staffID string) []models.SyncSwagResult
}

// PackCache is the optional read-through cache for offline packs.
type PackCache interface {
	GetPack(ctx context.Context, eventID string) (*models.OfflinePack, error)
	SetPack(ctx context.Context, eventID string, pack *models.OfflinePack) error
}

// Feed is the SSE subscription surface of the live check-in feed.
type Feed interface {
	Subscribe(ctx context.Context, eventID string) chan models.CheckinEvent
}

type Handler struct {
	Service Service
	Badge   *badge.Generator
	Feed    Feed
	Cache   PackCache
	Logger  *logger.Logger
}

func NewHandler(service Service, badgeGen *badge.Generator, feed Feed, cache PackCache, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Badge:   badgeGen,
		Feed:    feed,
		Cache:   cache,
		Logger:  log,
	}
}

// RegisterRoutes mounts the gate API under the supplied router, which is
// expected to already carry the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkin", func(r chi.Router) {
		r.Post("/verify", h.VerifyTicket)
		r.Post("/sync", h.SyncOffline)
		r.Post("/sync/swag", h.SyncSwagCollections)

		r.Route("/events/{eventId}", func(r chi.Router) {
			r.Get("/search", h.SearchTickets)
			r.Get("/stats", h.GetStats)
			r.Get("/recent", h.GetRecentCheckins)
			r.Get("/live", h.LiveFeed)
			r.Get("/offline-pack", h.GetOfflinePack)
			r.Get("/swag", h.GetSwagItems)
			r.Post("/swag", h.CreateSwagItem)
		})

		r.Route("/{checkinId}", func(r chi.Router) {
			r.Delete("/", h.UndoCheckin)
			r.Get("/badge", h.GetBadge)
			r.Get("/swag/uncollected", h.GetUncollectedSwag)
			r.Post("/swag/{itemId}", h.CollectSwag)
		})
	})
}

// VerifyTicket is the main gate operation: POST {"code": "..."}.
func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code  string `json:"code"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if checkin.NormalizeCode(body.Code) == "" {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Ticket code is required", "empty code"))
		return
	}

	staffID := auth.StaffID(r.Context())
	result, err := h.Service.VerifyAndCheckin(r.Context(), body.Code, staffID, body.Notes)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}

	// Offer whatever swag the attendee hasn't collected yet.
	remaining, err := h.Service.UncollectedSwag(r.Context(), result.CheckIn.ID)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("VerifyTicket: failed to load uncollected swag: %v", err))
		remaining = nil
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Checked in", map[string]interface{}{
		"ticket":           result.Ticket,
		"checkin":          result.CheckIn,
		"event":            result.Event,
		"uncollected_swag": remaining,
	}))
}

func (h *Handler) CollectSwag(w http.ResponseWriter, r *http.Request) {
	checkinID := chi.URLParam(r, "checkinId")
	itemID := chi.URLParam(r, "itemId")
	staffID := auth.StaffID(r.Context())

	collection, err := h.Service.CollectSwag(r.Context(), checkinID, itemID, staffID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Swag collected", collection))
}

func (h *Handler) UndoCheckin(w http.ResponseWriter, r *http.Request) {
	checkinID := chi.URLParam(r, "checkinId")
	staffID := auth.StaffID(r.Context())

	ticket, err := h.Service.UndoCheckin(r.Context(), checkinID, staffID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Check-in undone", ticket))
}

func (h *Handler) SearchTickets(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	query := r.URL.Query().Get("q")

	tickets, err := h.Service.SearchTickets(r.Context(), eventID, query)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Search results", tickets))
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	stats, err := h.Service.Stats(r.Context(), eventID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Check-in stats", stats))
}

func (h *Handler) GetSwagItems(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	items, err := h.Service.SwagItems(r.Context(), eventID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Swag items", items))
}

func (h *Handler) CreateSwagItem(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var body struct {
		Name        string `json:"name"`
		Quantity    int    `json:"quantity"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	item, err := h.Service.CreateSwagItem(r.Context(), eventID, body.Name, body.Quantity, body.Description)
	if err != nil {
		if errors.Is(err, checkin.ErrEventNotFound) {
			h.writeCheckinError(w, err)
			return
		}
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Could not create swag item", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Swag item created", item))
}

func (h *Handler) GetUncollectedSwag(w http.ResponseWriter, r *http.Request) {
	checkinID := chi.URLParam(r, "checkinId")

	items, err := h.Service.UncollectedSwag(r.Context(), checkinID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Uncollected swag", items))
}

func (h *Handler) GetRecentCheckins(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	records, err := h.Service.RecentCheckins(r.Context(), eventID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Recent check-ins", records))
}

// GetBadge renders a check-in's reference as an encrypted QR PNG.
func (h *Handler) GetBadge(w http.ResponseWriter, r *http.Request) {
	checkinID := chi.URLParam(r, "checkinId")

	record, err := h.Service.GetCheckin(r.Context(), checkinID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}

	payload := badge.Payload{Reference: record.Reference}
	if record.Ticket != nil {
		payload.TicketCode = record.Ticket.Code
		if record.Ticket.TicketType != nil {
			payload.EventID = record.Ticket.TicketType.EventID
		}
	}

	png, err := h.Badge.Generate(payload)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetBadge: failed to render badge: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not render badge", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// GetOfflinePack serves the snapshot terminals download for offline
// scanning, read through the Redis cache when one is wired.
func (h *Handler) GetOfflinePack(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	if h.Cache != nil {
		cached, err := h.Cache.GetPack(r.Context(), eventID)
		if err != nil {
			h.Logger.Warn("CACHE", fmt.Sprintf("offline pack cache read failed: %v", err))
		} else if cached != nil {
			h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Offline pack", cached))
			return
		}
	}

	pack, err := h.Service.OfflinePack(r.Context(), eventID)
	if err != nil {
		h.writeCheckinError(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.SetPack(r.Context(), eventID, pack); err != nil {
			h.Logger.Warn("CACHE", fmt.Sprintf("offline pack cache write failed: %v", err))
		}
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Offline pack", pack))
}

// SyncOffline replays check-ins a terminal recorded while disconnected.
func (h *Handler) SyncOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entries []models.SyncEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	staffID := auth.StaffID(r.Context())
	results := h.Service.SyncOffline(r.Context(), body.Entries, staffID)
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Sync complete", results))
}

// SyncSwagCollections replays swag hand-outs a terminal recorded while
// disconnected, keyed by ticket code.
func (h *Handler) SyncSwagCollections(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entries []models.SyncSwagEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	staffID := auth.StaffID(r.Context())
	results := h.Service.SyncSwagCollections(r.Context(), body.Entries, staffID)
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Swag sync complete", results))
}

// LiveFeed streams check-ins for an event over SSE.
func (h *Handler) LiveFeed(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events := h.Feed.Subscribe(r.Context(), eventID)
	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: checkin\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}

// writeCheckinError maps the error taxonomy to HTTP statuses. Everything
// not-found is 404, idempotent rejections and stock exhaustion are 409,
// window violations 403, lock contention 503, the rest 500.
func (h *Handler) writeCheckinError(w http.ResponseWriter, err error) {
	var already *checkin.AlreadyCheckedInError
	switch {
	case errors.As(err, &already):
		response := utils.ErrorResponse("Already checked in", already.Error())
		response.Data = map[string]interface{}{
			"reference":     already.Reference,
			"ticket_code":   already.TicketCode,
			"checked_in_at": already.CheckedInAt,
			"checked_in_by": already.CheckedInBy,
		}
		h.writeJSON(w, http.StatusConflict, response)
	case errors.Is(err, checkin.ErrTicketNotFound),
		errors.Is(err, checkin.ErrCheckinNotFound),
		errors.Is(err, checkin.ErrSwagItemNotFound),
		errors.Is(err, checkin.ErrEventNotFound):
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	case errors.Is(err, checkin.ErrAlreadyCollected):
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Already collected", err.Error()))
	case errors.Is(err, checkin.ErrOutOfStock):
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Out of stock", err.Error()))
	case errors.Is(err, checkin.ErrOutsideWindow):
		h.writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Outside check-in window", err.Error()))
	case errors.Is(err, checkin.ErrBusy):
		h.writeJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Busy, retry", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("unexpected error: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal error", err.Error()))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
