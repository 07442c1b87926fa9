package presence_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"arcade-presence/internal/archive/db"
	"arcade-presence/internal/auth"
	"arcade-presence/internal/estimation"
	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
	"arcade-presence/internal/presence"
	"arcade-presence/internal/utils"
)

type Handler struct {
	PresenceService *presence.Service
	Estimator       *estimation.Engine
	ArchiveDB       *db.DB
	Logger          *logger.Logger
}

func NewHandler(svc *presence.Service, est *estimation.Engine, archive *db.DB, log *logger.Logger) *Handler {
	return &Handler{
		PresenceService: svc,
		Estimator:       est,
		ArchiveDB:       archive,
		Logger:          log,
	}
}

// RegisterRoutes mounts the presence API. Estimate reads are public but run
// through the optional verifier so a valid token can widen contributor
// visibility; everything that writes or exposes identity sits behind the
// mandatory auth group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalMiddleware())
		r.Get("/api/presence/estimate", h.GetEstimate)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		r.Route("/api/presence/{source}/{venueID}", func(r chi.Router) {
			r.Post("/checkin", h.CheckIn)
			r.Delete("/checkin", h.CheckOut)
			r.Put("/report/{gameID}", h.SubmitReport)
		})
		r.Get("/api/presence/history/{visitorID}", h.GetHistory)
	})
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	venueKey, ok := h.venueKeyFromURL(w, r)
	if !ok {
		return
	}
	visitorID := auth.UserID(r.Context())

	var req models.CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CheckIn: failed to decode request body: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ttlSeconds, err := h.PresenceService.CheckIn(r.Context(), venueKey, visitorID, req.Games, req.PlannedDepartureAt)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CheckIn: %v", err))
		utils.WriteError(w, statusFor(err), "Check-in failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Checked in", models.CheckInResponse{TTLSeconds: ttlSeconds}))
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	venueKey, ok := h.venueKeyFromURL(w, r)
	if !ok {
		return
	}
	visitorID := auth.UserID(r.Context())

	archived, err := h.PresenceService.CheckOut(r.Context(), venueKey, visitorID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CheckOut: %v", err))
		utils.WriteError(w, statusFor(err), "Check-out failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Checked out", map[string]interface{}{
		"archived":  true,
		"record_id": archived.ID,
	}))
}

func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	venueKey, ok := h.venueKeyFromURL(w, r)
	if !ok {
		return
	}
	gameID, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid game id", err)
		return
	}

	var req models.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CurrentCount < 0 {
		utils.WriteError(w, http.StatusBadRequest, "Count must not be negative", nil)
		return
	}

	rec, err := h.PresenceService.SubmitReport(r.Context(), venueKey, gameID, req.CurrentCount, auth.UserID(r.Context()), req.Comment)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("SubmitReport: %v", err))
		utils.WriteError(w, statusFor(err), "Report submission failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Report recorded", rec))
}

func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	rawKeys := r.URL.Query()["venue"]
	if len(rawKeys) == 0 {
		utils.WriteError(w, http.StatusBadRequest, "At least one venue parameter is required", nil)
		return
	}
	venueKeys := make([]models.VenueKey, 0, len(rawKeys))
	for _, raw := range rawKeys {
		key, err := models.ParseVenueKey(raw)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "Invalid venue key", err)
			return
		}
		venueKeys = append(venueKeys, key)
	}

	// Identity comes exclusively from the verifying middleware; an absent or
	// forged token leaves the requester anonymous.
	opts := estimation.Options{
		IncludeContributors: r.URL.Query().Get("contributors") == "true",
		RequesterID:         auth.UserID(r.Context()),
		RequesterAdmin:      auth.IsAdmin(r.Context()),
	}

	results, err := h.Estimator.Estimate(r.Context(), venueKeys, opts)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEstimate: %v", err))
		utils.WriteError(w, http.StatusBadGateway, "Estimation failed", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Estimates computed", results))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	requester := auth.UserID(r.Context())
	if requester != visitorID && !auth.IsAdmin(r.Context()) {
		utils.WriteError(w, http.StatusForbidden, "Not allowed to view this history", nil)
		return
	}

	records, err := h.ArchiveDB.ListByVisitor(r.Context(), visitorID, 100)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetHistory: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("History loaded", records))
}

func (h *Handler) venueKeyFromURL(w http.ResponseWriter, r *http.Request) (models.VenueKey, bool) {
	source := chi.URLParam(r, "source")
	venueID, err := strconv.ParseInt(chi.URLParam(r, "venueID"), 10, 64)
	if err != nil || source == "" {
		utils.WriteError(w, http.StatusBadRequest, "Invalid venue key", err)
		return models.VenueKey{}, false
	}
	return models.VenueKey{Source: source, ID: venueID}, true
}

// statusFor maps the service error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, presence.ErrVenueNotFound), errors.Is(err, presence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, presence.ErrGameNotInVenue), errors.Is(err, presence.ErrInvalidDepartureTime):
		return http.StatusBadRequest
	case errors.Is(err, presence.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
