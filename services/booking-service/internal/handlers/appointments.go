package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/review"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

type statusResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CompletedAt   string `json:"completed_at,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

type inviteRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type inviteResponse struct {
	Token string `json:"token"`
}

type ownReviewRequest struct {
	AppointmentID string `json:"appointment_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
	Status        string `json:"status"`
	CompletedAt   string `json:"completed_at,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type appointmentListResponse struct {
	Appointments []appointmentItem `json:"appointments"`
}

func (a *API) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	caller, _ := CallerFromContext(r.Context())
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if uuid.Validate(strings.TrimSpace(req.AppointmentID)) != nil {
		badRequest(w, "appointment_id must be a UUID")
		return
	}

	appt, err := a.lifecycle.Transition(r.Context(), lifecycle.TransitionRequest{
		ShopID:        caller.ShopID,
		AppointmentID: req.AppointmentID,
		To:            model.Status(strings.TrimSpace(req.Status)),
		Reason:        req.Reason,
		Caller:        caller,
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		CompletedAt:   formatTimePtr(appt.CompletedAt),
		CancelledAt:   formatTimePtr(appt.CancelledAt),
	})
}

func (a *API) IssueInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	caller, _ := CallerFromContext(r.Context())
	var req inviteRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if uuid.Validate(id) != nil {
		badRequest(w, "appointment_id must be a UUID")
		return
	}
	issued, err := a.invites.IssueFor(r.Context(), caller, caller.ShopID, id)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inviteResponse{Token: issued.Token})
}

// ListAppointments shows the whole shop to admins and only their own book to staff.
func (a *API) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	caller, _ := CallerFromContext(r.Context())
	filter := storage.AppointmentFilter{ShopID: caller.ShopID, Limit: parseLimit(r)}
	switch caller.Role {
	case model.RoleAdmin:
		if staffID := strings.TrimSpace(r.URL.Query().Get("staff_id")); staffID != "" {
			if uuid.Validate(staffID) != nil {
				badRequest(w, "staff_id must be a UUID")
				return
			}
			filter.StaffID = staffID
		}
	case model.RoleStaff:
		if caller.StaffID == "" {
			writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "staff identity missing")
			return
		}
		filter.StaffID = caller.StaffID
	default:
		writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
		return
	}
	a.writeAppointments(w, r, filter)
}

// MyAppointments matches by the caller's verified email at query time, so bookings made as a guest
// show up once the customer signs in.
func (a *API) MyAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if caller.Role != model.RoleCustomer {
		writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
		return
	}
	email, ok := caller.VerifiedEmail()
	if !ok {
		writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "a verified email is required")
		return
	}
	a.writeAppointments(w, r, storage.AppointmentFilter{ShopID: caller.ShopID, CustomerEmail: email, Limit: parseLimit(r)})
}

func (a *API) writeAppointments(w http.ResponseWriter, r *http.Request, filter storage.AppointmentFilter) {
	appts, err := a.store.ListAppointments(r.Context(), filter)
	if err != nil {
		writeError(w, a.logger, model.Persistence("list appointments", err))
		return
	}
	resp := appointmentListResponse{Appointments: make([]appointmentItem, 0, len(appts))}
	for _, appt := range appts {
		resp.Appointments = append(resp.Appointments, appointmentItem{
			AppointmentID: appt.ID,
			StaffID:       appt.StaffID,
			ServiceID:     appt.ServiceID,
			StartAt:       formatTime(appt.StartTime),
			EndAt:         formatTime(appt.EndTime),
			Status:        string(appt.Status),
			CompletedAt:   formatTimePtr(appt.CompletedAt),
			CancelledAt:   formatTimePtr(appt.CancelledAt),
			CreatedAt:     formatTime(appt.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) SubmitOwnReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	caller, _ := CallerFromContext(r.Context())
	var req ownReviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, reviewResponse{Error: "invalid json body", Code: "INVALID_INPUT"})
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if uuid.Validate(id) != nil {
		writeJSON(w, http.StatusBadRequest, reviewResponse{Error: "appointment_id must be a UUID", Code: "INVALID_INPUT"})
		return
	}
	_, err := a.reviews.SubmitAsCustomer(r.Context(), caller, id, review.Submission{Rating: req.Rating, Comment: req.Comment})
	a.writeReviewResult(w, err)
}

func parseLimit(r *http.Request) int {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}
