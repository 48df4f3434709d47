package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/twpayne/go-polyline"

	"github.com/jusunglee/busboard/internal/feed"
	"github.com/jusunglee/busboard/internal/models"
	"github.com/jusunglee/busboard/internal/upstream"
	"github.com/jusunglee/busboard/internal/vehicles"
	"github.com/jusunglee/busboard/pkg/busboard"
)

const defaultNearbyLimit = 5

// Handler handles HTTP requests
type Handler struct {
	client busboard.Client
}

// NewHandler creates a new HTTP handler
func NewHandler(client busboard.Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")
	r.HandleFunc("/arrivals", h.handleArrivals).Methods("GET")
	r.HandleFunc("/stop/{id}", h.handleSelectStop).Methods("PUT")
	r.HandleFunc("/filters/reset", h.handleResetFilters).Methods("POST")
	r.HandleFunc("/filters/{line}/toggle", h.handleToggleLine).Methods("POST")
	r.HandleFunc("/live", h.handleLiveVehicle).Methods("GET")
	r.HandleFunc("/live", h.handleCloseLive).Methods("DELETE")
	r.HandleFunc("/live/{vehicle}", h.handleOpenLive).Methods("PUT")
	r.HandleFunc("/vehicles", h.handleVehicles).Methods("GET")
	r.HandleFunc("/patterns/{id}", h.handlePattern).Methods("GET")
	r.HandleFunc("/shapes/{id}", h.handleShape).Methods("GET")
	r.HandleFunc("/stops/nearby", h.handleNearby).Methods("GET")
	r.HandleFunc("/stops", h.handleStops).Methods("GET")
	r.HandleFunc("/groups", h.handleGroups).Methods("GET")
}

// Response wraps API responses
type Response struct {
	Data    interface{} `json:"data"`
	Updated string      `json:"updated,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"title":  "busboard",
		"readme": "GET /arrivals for the current stop, PUT /stop/{id} to switch",
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleArrivals(w http.ResponseWriter, r *http.Request) {
	h.writeBoard(w)
}

func (h *Handler) handleSelectStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.client.SelectStop(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, feed.ErrNoStop):
			h.writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, upstream.ErrStopNotFound):
			h.writeError(w, "stop not found", http.StatusNotFound)
		default:
			h.writeError(w, "could not load arrivals", http.StatusBadGateway)
		}
		return
	}

	h.writeBoard(w)
}

func (h *Handler) handleToggleLine(w http.ResponseWriter, r *http.Request) {
	h.client.ToggleLine(mux.Vars(r)["line"])
	h.writeBoard(w)
}

func (h *Handler) handleResetFilters(w http.ResponseWriter, r *http.Request) {
	h.client.ResetLines()
	h.writeBoard(w)
}

func (h *Handler) handleOpenLive(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle"]
	h.client.OpenLiveView(vehicleID, r.URL.Query().Get("trip"))
	h.handleLiveVehicle(w, r)
}

func (h *Handler) handleCloseLive(w http.ResponseWriter, r *http.Request) {
	h.client.CloseLiveView()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLiveVehicle(w http.ResponseWriter, r *http.Request) {
	live, err := h.client.LiveVehicle(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrNoLiveView), errors.Is(err, vehicles.ErrSignalLost):
			h.writeError(w, err.Error(), http.StatusNotFound)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, Response{Data: live})
}

func (h *Handler) handleVehicles(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.Vehicles(r.Context())})
}

func (h *Handler) handlePattern(w http.ResponseWriter, r *http.Request) {
	pattern, err := h.client.Pattern(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeUpstreamError(w, "pattern", err)
		return
	}
	h.writeJSON(w, Response{Data: pattern})
}

func (h *Handler) handleShape(w http.ResponseWriter, r *http.Request) {
	shape, err := h.client.Shape(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeUpstreamError(w, "shape", err)
		return
	}

	if r.URL.Query().Get("format") == "polyline" {
		h.writeJSON(w, Response{Data: encodeShape(shape)})
		return
	}
	h.writeJSON(w, Response{Data: shape})
}

// EncodedShape is a shape in Google's encoded polyline format
type EncodedShape struct {
	ID     string `json:"id"`
	Length int    `json:"length"`
	Points string `json:"points"`
}

func encodeShape(shape models.Shape) EncodedShape {
	coords := make([][]float64, 0, len(shape.Points))
	for _, p := range shape.Points {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return EncodedShape{
		ID:     shape.ID,
		Length: len(shape.Points),
		Points: string(polyline.EncodeCoords(coords)),
	}
}

func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lonStr := r.URL.Query().Get("lon")

	if latStr == "" || lonStr == "" {
		h.writeError(w, "Missing lat/lon parameter", http.StatusBadRequest)
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		h.writeError(w, "Invalid lat parameter", http.StatusBadRequest)
		return
	}

	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		h.writeError(w, "Invalid lon parameter", http.StatusBadRequest)
		return
	}

	limit := defaultNearbyLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			h.writeError(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
	}

	h.writeJSON(w, Response{Data: h.client.NearbyStops(lat, lon, limit)})
}

func (h *Handler) handleStops(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.Stops()})
}

func (h *Handler) handleGroups(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.Groups()})
}

func (h *Handler) writeBoard(w http.ResponseWriter) {
	response := Response{Data: h.client.Board()}
	if updated := h.client.GetLastUpdate(); !updated.IsZero() {
		response.Updated = updated.Format(time.RFC3339)
	}
	h.writeJSON(w, response)
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, upstream.ErrUnexpectedStatus) {
		h.writeError(w, what+" not found", http.StatusNotFound)
		return
	}
	h.writeError(w, what+" unavailable", http.StatusBadGateway)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
