package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/auth"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/review"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage/memstore"
)

const (
	jwtSecret = "test-secret"
	shopID    = "6f1c1d5e-2b0a-4c1e-9a57-0d6d8b1f0001"
	serviceID = "6f1c1d5e-2b0a-4c1e-9a57-0d6d8b1f0002"
	staffID   = "6f1c1d5e-2b0a-4c1e-9a57-0d6d8b1f0003"
	otherID   = "6f1c1d5e-2b0a-4c1e-9a57-0d6d8b1f0004"
)

type testEnv struct {
	handler http.Handler
	store   *memstore.Store
	day     time.Time
}

// nextWednesday is far enough ahead that lead time never interferes.
func nextWednesday() time.Time {
	d := time.Now().UTC().AddDate(0, 0, 7)
	for d.Weekday() != time.Wednesday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	store.AddService(model.Service{ID: serviceID, ShopID: shopID, Name: "Haircut", DurationMins: 30, IsActive: true})
	store.AddStaff(model.Staff{ID: staffID, ShopID: shopID, Name: "Sam", IsActive: true, ServiceIDs: []string{serviceID}, Schedule: calendar.DefaultTemplate()})

	engine := availability.NewEngine(store, availability.Config{Step: 30 * time.Minute}, logger)
	signer, err := invite.NewSigner(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	invites := invite.NewService(store, signer, 0, logger)
	api := NewAPI(Deps{
		Store:     store,
		Engine:    engine,
		Booking:   booking.NewCoordinator(store, engine, logger),
		Lifecycle: lifecycle.NewManager(store, logger),
		Invites:   invites,
		Reviews:   review.NewResolver(store, invites, review.Config{AutoPublish: true}, logger),
		Logger:    logger,
	})
	mux := http.NewServeMux()
	api.Register(mux, NewAuthenticator(jwtSecret, nil), nil)
	return &testEnv{handler: mux, store: store, day: nextWednesday()}
}

func bearer(t *testing.T, claims auth.Claims) string {
	t.Helper()
	claims.Exp = time.Now().Add(time.Hour).Unix()
	token, err := auth.SignHS256(claims, jwtSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func adminToken(t *testing.T) string {
	return bearer(t, auth.Claims{Sub: "admin-1", ShopID: shopID, Role: "admin"})
}

func customerToken(t *testing.T, email string, verified bool) string {
	return bearer(t, auth.Claims{Sub: "cust-1", ShopID: shopID, Role: "customer", Email: email, EmailVerified: verified})
}

func (e *testEnv) do(t *testing.T, method, target, authz string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rw := httptest.NewRecorder()
	e.handler.ServeHTTP(rw, req)
	return rw
}

func decode[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rw.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rw.Body.String(), err)
	}
	return out
}

func (e *testEnv) bookAt(t *testing.T, h, m int, email string) createBookingResponse {
	t.Helper()
	rw := e.do(t, http.MethodPost, "/api/v1/public/bookings", "", map[string]string{
		"shop_id":        shopID,
		"service_id":     serviceID,
		"staff_id":       staffID,
		"start_at":       e.day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute).Format(time.RFC3339),
		"customer_name":  "Ann",
		"customer_phone": "555-0100",
		"customer_email": email,
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("book: expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	return decode[createBookingResponse](t, rw)
}

func (e *testEnv) transition(t *testing.T, id string, to model.Status) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/appointments/status", adminToken(t), map[string]string{"appointment_id": id, "status": string(to)})
}

func (e *testEnv) completed(t *testing.T, email string) string {
	t.Helper()
	id := e.bookAt(t, 11, 0, email).AppointmentID
	for _, to := range []model.Status{model.StatusConfirmed, model.StatusDone} {
		if rw := e.transition(t, id, to); rw.Code != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", to, rw.Code, rw.Body.String())
		}
	}
	return id
}

func TestAvailability_Validation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]string{
		"missing date":  "shop_id=" + shopID + "&service_id=" + serviceID,
		"bad date":      "shop_id=" + shopID + "&service_id=" + serviceID + "&date=03/04/2026",
		"bad shop uuid": "shop_id=shop-1&service_id=" + serviceID + "&date=2026-03-04",
	}
	for name, q := range cases {
		rw := env.do(t, http.MethodGet, "/api/v1/public/availability?"+q, "", nil)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rw.Code)
		}
		if got := decode[errorResponse](t, rw); got.Code != "INVALID_INPUT" || got.Error == "" {
			t.Fatalf("%s: unexpected error body %+v", name, got)
		}
	}
	if rw := env.do(t, http.MethodPost, "/api/v1/public/availability", "", nil); rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}

func TestAvailability_UnknownServiceIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	q := url.Values{"shop_id": {shopID}, "service_id": {otherID}, "date": {env.day.Format("2006-01-02")}}
	rw := env.do(t, http.MethodGet, "/api/v1/public/availability?"+q.Encode(), "", nil)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestAvailability_BookedSlotDisappears(t *testing.T) {
	env := newTestEnv(t)
	env.bookAt(t, 10, 0, "")

	q := url.Values{"shop_id": {shopID}, "service_id": {serviceID}, "date": {env.day.Format("2006-01-02")}}
	rw := env.do(t, http.MethodGet, "/api/v1/public/availability?"+q.Encode(), "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	resp := decode[availabilityResponse](t, rw)
	// 09:00-17:00 on a 30 minute grid is 16 slots; one is taken.
	if len(resp.Slots) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(resp.Slots))
	}
	taken := env.day.Add(10 * time.Hour).Format(time.RFC3339)
	for _, s := range resp.Slots {
		if s.StartAt == taken {
			t.Fatalf("booked slot %s still offered", taken)
		}
		if s.StaffID != staffID {
			t.Fatalf("unexpected staff %q", s.StaffID)
		}
	}
	if resp.Slots[0].StartAt != env.day.Add(9*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expected first slot at 09:00, got %s", resp.Slots[0].StartAt)
	}
}

func TestBook_ConflictIs409(t *testing.T) {
	env := newTestEnv(t)
	env.bookAt(t, 10, 0, "")
	rw := env.do(t, http.MethodPost, "/api/v1/public/bookings", "", map[string]string{
		"shop_id": shopID, "service_id": serviceID, "staff_id": staffID,
		"start_at":      env.day.Add(10*time.Hour + 15*time.Minute).Format(time.RFC3339),
		"customer_name": "Bob", "customer_phone": "555-0101",
	})
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rw.Code, rw.Body.String())
	}
	if got := decode[errorResponse](t, rw); got.Code != "CONFLICT" {
		t.Fatalf("unexpected code %q", got.Code)
	}
}

func TestBook_Validation(t *testing.T) {
	env := newTestEnv(t)
	valid := func() map[string]string {
		return map[string]string{
			"shop_id": shopID, "service_id": serviceID, "staff_id": staffID,
			"start_at":      env.day.Add(10 * time.Hour).Format(time.RFC3339),
			"customer_name": "Ann", "customer_phone": "555",
		}
	}
	mutations := map[string]func(map[string]string){
		"missing staff":  func(b map[string]string) { delete(b, "staff_id") },
		"bad staff uuid": func(b map[string]string) { b["staff_id"] = "sam" },
		"bad start":      func(b map[string]string) { b["start_at"] = "tomorrow" },
		"bad email":      func(b map[string]string) { b["customer_email"] = "not-an-email" },
		"unknown field":  func(b map[string]string) { b["price"] = "0" },
	}
	for name, mutate := range mutations {
		body := valid()
		mutate(body)
		rw := env.do(t, http.MethodPost, "/api/v1/public/bookings", "", body)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", name, rw.Code, rw.Body.String())
		}
	}
	if n := len(env.store.Appointments()); n != 0 {
		t.Fatalf("expected no appointments, got %d", n)
	}
}

func TestBook_IdempotencyKeyReplays(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{
		"shop_id": shopID, "service_id": serviceID, "staff_id": staffID,
		"start_at":      env.day.Add(14 * time.Hour).Format(time.RFC3339),
		"customer_name": "Ann", "customer_phone": "555",
	}
	first := env.do(t, http.MethodPost, "/api/v1/public/bookings", "", body, "Idempotency-Key", "k-1")
	second := env.do(t, http.MethodPost, "/api/v1/public/bookings", "", body, "Idempotency-Key", "k-1")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}
	if decode[createBookingResponse](t, first).AppointmentID != decode[createBookingResponse](t, second).AppointmentID {
		t.Fatalf("replay returned a different appointment")
	}
}

func TestBook_PersistenceFailureHidesDetail(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fail("InsertAppointment", errors.New("relation appointments does not exist"))
	rw := env.do(t, http.MethodPost, "/api/v1/public/bookings", "", map[string]string{
		"shop_id": shopID, "service_id": serviceID, "staff_id": staffID,
		"start_at":      env.day.Add(10 * time.Hour).Format(time.RFC3339),
		"customer_name": "Ann", "customer_phone": "555",
	})
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rw.Code)
	}
	if strings.Contains(rw.Body.String(), "relation") {
		t.Fatalf("storage detail leaked: %s", rw.Body.String())
	}
	if got := decode[errorResponse](t, rw); got.Code != "INTERNAL_ERROR" || got.Error != "internal error" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestStatus_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookAt(t, 10, 0, "").AppointmentID
	body := map[string]string{"appointment_id": id, "status": "confirmed"}

	if rw := env.do(t, http.MethodPost, "/api/v1/appointments/status", "", body); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}
	if rw := env.do(t, http.MethodPost, "/api/v1/appointments/status", "Bearer nope", body); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rw.Code)
	}
	customer := customerToken(t, "ann@example.com", true)
	if rw := env.do(t, http.MethodPost, "/api/v1/appointments/status", customer, body); rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rw.Code)
	}
	otherStaff := bearer(t, auth.Claims{Sub: "u2", ShopID: shopID, Role: "staff", StaffID: otherID})
	if rw := env.do(t, http.MethodPost, "/api/v1/appointments/status", otherStaff, body); rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another staff member, got %d", rw.Code)
	}
	owner := bearer(t, auth.Claims{Sub: "u1", ShopID: shopID, Role: "staff", StaffID: staffID})
	rw := env.do(t, http.MethodPost, "/api/v1/appointments/status", owner, body)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for owning staff, got %d: %s", rw.Code, rw.Body.String())
	}
	if got := decode[statusResponse](t, rw); got.Status != "confirmed" || got.AppointmentID != id {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestStatus_InvalidTransitionIs409(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookAt(t, 10, 0, "").AppointmentID
	rw := env.transition(t, id, model.StatusDone)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
	if got := decode[errorResponse](t, rw); got.Code != "INVALID_TRANSITION" {
		t.Fatalf("unexpected code %q", got.Code)
	}
}

func TestInviteFlow_PreviewSubmitReuse(t *testing.T) {
	env := newTestEnv(t)
	id := env.completed(t, "ann@example.com")

	rw := env.do(t, http.MethodPost, "/api/v1/appointments/review-invite", adminToken(t), map[string]string{"appointment_id": id})
	if rw.Code != http.StatusOK {
		t.Fatalf("issue: expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	token := decode[inviteResponse](t, rw).Token

	preview := env.do(t, http.MethodGet, "/api/v1/public/review-invites?token="+url.QueryEscape(token), "", nil)
	if preview.Code != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d", preview.Code)
	}
	if p := decode[invitePreviewResponse](t, preview); p.ServiceName != "Haircut" || p.StaffName != "Sam" {
		t.Fatalf("unexpected preview %+v", p)
	}

	submit := map[string]any{"token": token, "rating": 5, "comment": "  great  "}
	first := env.do(t, http.MethodPost, "/api/v1/public/reviews", "", submit)
	if first.Code != http.StatusOK || !decode[reviewResponse](t, first).Success {
		t.Fatalf("submit: expected success, got %d: %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodPost, "/api/v1/public/reviews", "", submit)
	got := decode[reviewResponse](t, second)
	if second.Code != http.StatusBadRequest || got.Success || got.Code != "INVALID_TOKEN" {
		t.Fatalf("reuse: expected INVALID_TOKEN, got %d %+v", second.Code, got)
	}

	forged := env.do(t, http.MethodPost, "/api/v1/public/reviews", "", map[string]any{"token": "abc.def", "rating": 5})
	if decode[reviewResponse](t, forged).Error != got.Error {
		t.Fatalf("forged and reused tokens must share one message")
	}

	after := env.do(t, http.MethodGet, "/api/v1/public/review-invites?token="+url.QueryEscape(token), "", nil)
	if after.Code != http.StatusNotFound {
		t.Fatalf("preview after use: expected 404, got %d", after.Code)
	}
	reviews := env.store.Reviews()
	if len(reviews) != 1 || reviews[0].Comment == nil || *reviews[0].Comment != "great" {
		t.Fatalf("unexpected reviews %+v", reviews)
	}
}

func TestPreview_GarbageTokenIs404(t *testing.T) {
	env := newTestEnv(t)
	rw := env.do(t, http.MethodGet, "/api/v1/public/review-invites?token=garbage", "", nil)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
	if got := decode[errorResponse](t, rw); got.Error != model.Message(model.ErrTokenInvalid) {
		t.Fatalf("unexpected message %q", got.Error)
	}
}

func TestIssueInvite_NotCompletedIs400(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookAt(t, 10, 0, "ann@example.com").AppointmentID
	rw := env.do(t, http.MethodPost, "/api/v1/appointments/review-invite", adminToken(t), map[string]string{"appointment_id": id})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestMyAppointments_MatchesVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.bookAt(t, 10, 0, "Ann@Example.com")
	env.bookAt(t, 12, 0, "bob@example.com")

	rw := env.do(t, http.MethodGet, "/api/v1/me/appointments", customerToken(t, "ANN@example.com", true), nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if got := decode[appointmentListResponse](t, rw); len(got.Appointments) != 1 {
		t.Fatalf("expected 1 appointment, got %+v", got)
	}
	if rw := env.do(t, http.MethodGet, "/api/v1/me/appointments", customerToken(t, "ann@example.com", false), nil); rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unverified email, got %d", rw.Code)
	}
}

func TestListAppointments_StaffSeesOwnOnly(t *testing.T) {
	env := newTestEnv(t)
	env.bookAt(t, 10, 0, "")

	own := bearer(t, auth.Claims{Sub: "u1", ShopID: shopID, Role: "staff", StaffID: staffID})
	if got := decode[appointmentListResponse](t, env.do(t, http.MethodGet, "/api/v1/appointments", own, nil)); len(got.Appointments) != 1 {
		t.Fatalf("owner: expected 1, got %d", len(got.Appointments))
	}
	other := bearer(t, auth.Claims{Sub: "u2", ShopID: shopID, Role: "staff", StaffID: otherID})
	if got := decode[appointmentListResponse](t, env.do(t, http.MethodGet, "/api/v1/appointments", other, nil)); len(got.Appointments) != 0 {
		t.Fatalf("other staff: expected 0, got %d", len(got.Appointments))
	}
	if rw := env.do(t, http.MethodGet, "/api/v1/appointments", customerToken(t, "ann@example.com", true), nil); rw.Code != http.StatusForbidden {
		t.Fatalf("customer: expected 403, got %d", rw.Code)
	}
}

func TestSubmitOwnReview_OnceOnly(t *testing.T) {
	env := newTestEnv(t)
	id := env.completed(t, "ann@example.com")
	customer := customerToken(t, "ann@example.com", true)

	body := map[string]any{"appointment_id": id, "rating": 4}
	first := env.do(t, http.MethodPost, "/api/v1/reviews", customer, body)
	if first.Code != http.StatusOK || !decode[reviewResponse](t, first).Success {
		t.Fatalf("expected success, got %d: %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodPost, "/api/v1/reviews", customer, body)
	if got := decode[reviewResponse](t, second); second.Code != http.StatusConflict || got.Code != "ALREADY_REVIEWED" {
		t.Fatalf("expected ALREADY_REVIEWED, got %d %+v", second.Code, got)
	}

	stranger := customerToken(t, "eve@example.com", true)
	if rw := env.do(t, http.MethodPost, "/api/v1/reviews", stranger, body); rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another customer, got %d", rw.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[model.Kind]int{
		model.KindInvalidInput:       http.StatusBadRequest,
		model.KindNotFound:           http.StatusNotFound,
		model.KindConflict:           http.StatusConflict,
		model.KindUnauthorized:       http.StatusForbidden,
		model.KindTokenAlreadyUsed:   http.StatusBadRequest,
		model.KindPersistenceFailure: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got, _ := statusFor(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestAuth_RejectsMalformedIdentityClaims(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookAt(t, 10, 0, "").AppointmentID
	body := map[string]string{"appointment_id": id, "status": "confirmed"}

	for _, claims := range []auth.Claims{
		{Sub: "u1", ShopID: "shop-1", Role: "admin"},
		{Sub: "u1", ShopID: shopID, Role: "staff", StaffID: "sam"},
	} {
		rw := env.do(t, http.MethodPost, "/api/v1/appointments/status", bearer(t, claims), body)
		if rw.Code != http.StatusUnauthorized {
			t.Fatalf("claims %+v: expected 401, got %d", claims, rw.Code)
		}
		if got := decode[errorResponse](t, rw); got.Code != "UNAUTHENTICATED" {
			t.Fatalf("unexpected body %+v", got)
		}
	}
}

func TestAuth_EmptySecretRejectsHS256(t *testing.T) {
	authn := NewAuthenticator("", auth.NewJWKSClient("http://127.0.0.1:1/jwks", time.Minute))
	forged, err := auth.SignHS256(auth.Claims{Sub: "x", ShopID: shopID, Role: "admin", Exp: time.Now().Add(time.Hour).Unix()}, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := authn.Require(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for HS256 token with empty secret, got %d", rw.Code)
	}
}
