package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/review"
)

type slotItem struct {
	StartAt string `json:"start_at"`
	StaffID string `json:"staff_id"`
}

type availabilityResponse struct {
	Slots []slotItem `json:"slots"`
}

type createBookingRequest struct {
	ShopID        string `json:"shop_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id"`
	StartAt       string `json:"start_at"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	Notes         string `json:"notes"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartAt       string `json:"start_at"`
}

type invitePreviewResponse struct {
	ServiceName string `json:"service_name"`
	StaffName   string `json:"staff_name"`
	StartAt     string `json:"start_at"`
}

type tokenReviewRequest struct {
	Token   string `json:"token"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type reviewResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (a *API) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	shopID := strings.TrimSpace(q.Get("shop_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if shopID == "" || serviceID == "" || dateStr == "" {
		badRequest(w, "shop_id, service_id and date are required")
		return
	}
	if !validIDs(shopID, serviceID) || (staffID != "" && uuid.Validate(staffID) != nil) {
		badRequest(w, "shop_id, service_id and staff_id must be UUIDs")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, a.loc)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}

	slots, err := a.engine.Slots(r.Context(), availability.Query{
		ShopID:    shopID,
		ServiceID: serviceID,
		StaffID:   staffID,
		Date:      day,
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	resp := availabilityResponse{Slots: make([]slotItem, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{StartAt: formatTime(s.Start), StaffID: s.StaffID})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createBookingRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	for _, id := range []string{req.ShopID, req.ServiceID, req.StaffID} {
		id = strings.TrimSpace(id)
		if id != "" && uuid.Validate(id) != nil {
			badRequest(w, "shop_id, service_id and staff_id must be UUIDs")
			return
		}
	}
	var start time.Time
	if raw := strings.TrimSpace(req.StartAt); raw != "" {
		var err error
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "start_at must be RFC3339")
			return
		}
	}

	res, err := a.booking.Book(r.Context(), booking.Request{
		ShopID:         req.ShopID,
		ServiceID:      req.ServiceID,
		StaffID:        req.StaffID,
		Start:          start,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		CustomerEmail:  req.CustomerEmail,
		Notes:          req.Notes,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, createBookingResponse{AppointmentID: res.AppointmentID, StartAt: formatTime(res.Start)})
}

// PreviewInvite answers every token problem with the same 404 so the response reveals nothing about
// why a token was rejected.
func (a *API) PreviewInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		badRequest(w, "token is required")
		return
	}
	p, err := a.invites.Preview(r.Context(), token)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindTokenInvalid, model.KindTokenAlreadyUsed:
			writeErrorCode(w, http.StatusNotFound, "INVALID_TOKEN", model.Message(err))
		default:
			writeError(w, a.logger, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, invitePreviewResponse{
		ServiceName: p.ServiceName,
		StaffName:   p.StaffName,
		StartAt:     formatTime(p.StartAt),
	})
}

func (a *API) SubmitReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req tokenReviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, reviewResponse{Error: "invalid json body", Code: "INVALID_INPUT"})
		return
	}
	_, err := a.reviews.SubmitWithToken(r.Context(), req.Token, review.Submission{Rating: req.Rating, Comment: req.Comment})
	a.writeReviewResult(w, err)
}

func (a *API) writeReviewResult(w http.ResponseWriter, err error) {
	if err != nil {
		status, code := statusFor(model.KindOf(err))
		if status == http.StatusInternalServerError {
			a.logger.Error("review submission failed", "err", err)
		}
		writeJSON(w, status, reviewResponse{Error: model.Message(err), Code: code})
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse{Success: true})
}

func validIDs(ids ...string) bool {
	for _, id := range ids {
		if uuid.Validate(id) != nil {
			return false
		}
	}
	return true
}

func idempotencyKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
}
