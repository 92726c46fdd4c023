package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage/memstore"
)

const shopID = "shop-1"

type fixture struct {
	store    *memstore.Store
	invites  *invite.Service
	resolver *Resolver
	appt     model.Appointment
	caller   model.Caller
}

func setup(t *testing.T, status model.Status, autoPublish bool) fixture {
	t.Helper()
	store := memstore.New()
	store.AddService(model.Service{ID: "svc", ShopID: shopID, Name: "Haircut", DurationMins: 30, IsActive: true})
	store.AddStaff(model.Staff{ID: "s1", ShopID: shopID, Name: "Sam", IsActive: true})
	cust := store.AddCustomer(model.Customer{ShopID: shopID, Name: "Ann", Phone: "1", Email: "ann@example.com"})

	start := time.Now().Add(-3 * time.Hour).UTC()
	a := model.Appointment{
		ShopID: shopID, StaffID: "s1", CustomerID: cust.ID, ServiceID: "svc",
		StartTime: start, EndTime: start.Add(30 * time.Minute), Status: status,
	}
	if status == model.StatusDone {
		done := start.Add(time.Hour)
		a.CompletedAt = &done
	}
	a = store.PutAppointment(a)

	signer, err := invite.NewSigner(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	invites := invite.NewService(store, signer, 0, nil)
	return fixture{
		store:    store,
		invites:  invites,
		resolver: NewResolver(store, invites, Config{AutoPublish: autoPublish}, nil),
		appt:     a,
		caller:   model.Caller{Subject: "u1", ShopID: shopID, Role: model.RoleCustomer, Email: " ANN@example.com", EmailVerified: true},
	}
}

func (f fixture) token(t *testing.T) string {
	t.Helper()
	issued, err := f.invites.Issue(context.Background(), shopID, f.appt.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return issued.Token
}

func TestSubmitWithToken_SingleUse(t *testing.T) {
	f := setup(t, model.StatusDone, true)
	ctx := context.Background()
	token := f.token(t)

	rev, err := f.resolver.SubmitWithToken(ctx, token, Submission{Rating: 5, Comment: "  great cut  "})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !rev.Verified || rev.Status != model.ReviewPublished || rev.PublishedAt == nil {
		t.Fatalf("unexpected review: %+v", rev)
	}
	if rev.Comment == nil || *rev.Comment != "great cut" {
		t.Fatalf("expected trimmed comment, got %v", rev.Comment)
	}

	_, err = f.resolver.SubmitWithToken(ctx, token, Submission{Rating: 4})
	if k := model.KindOf(err); k != model.KindTokenAlreadyUsed && k != model.KindTokenInvalid {
		t.Fatalf("expected a token error on reuse, got %v", err)
	}
	if got := len(f.store.Reviews()); got != 1 {
		t.Fatalf("expected 1 review, got %d", got)
	}

	var submitted int
	for _, e := range f.store.Events() {
		if e.EventType == outbox.EventReviewSubmitted {
			submitted++
		}
	}
	if submitted != 1 {
		t.Fatalf("expected 1 review event, got %d", submitted)
	}
}

func TestSubmitWithToken_RejectsBadTokens(t *testing.T) {
	f := setup(t, model.StatusDone, true)
	ctx := context.Background()
	token := f.token(t)

	for _, bad := range []string{"", "garbage", token[:len(token)-1] + "A", "a.b.c"} {
		if bad == token {
			continue
		}
		_, err := f.resolver.SubmitWithToken(ctx, bad, Submission{Rating: 3})
		if model.KindOf(err) != model.KindTokenInvalid {
			t.Fatalf("%q: expected TokenInvalid, got %v", bad, err)
		}
	}
	if len(f.store.Reviews()) != 0 {
		t.Fatalf("no review expected")
	}
}

func TestSubmitWithToken_InsertFailureKeepsTokenUsable(t *testing.T) {
	f := setup(t, model.StatusDone, true)
	ctx := context.Background()
	token := f.token(t)

	f.store.Fail("InsertReview", errors.New("connection reset"))
	if _, err := f.resolver.SubmitWithToken(ctx, token, Submission{Rating: 5}); model.KindOf(err) != model.KindPersistenceFailure {
		t.Fatalf("expected PersistenceFailure, got %v", err)
	}
	f.store.Fail("InsertReview", nil)
	if _, err := f.resolver.SubmitWithToken(ctx, token, Submission{Rating: 5}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestSubmitAsCustomer(t *testing.T) {
	f := setup(t, model.StatusDone, false)
	ctx := context.Background()

	rev, err := f.resolver.SubmitAsCustomer(ctx, f.caller, f.appt.ID, Submission{Rating: 4, Comment: "   "})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rev.Comment != nil {
		t.Fatalf("expected empty comment stored as nil, got %q", *rev.Comment)
	}
	if rev.Status != model.ReviewPending || rev.PublishedAt != nil {
		t.Fatalf("expected pending review without auto-publish, got %+v", rev)
	}

	_, err = f.resolver.SubmitAsCustomer(ctx, f.caller, f.appt.ID, Submission{Rating: 2})
	if !errors.Is(err, model.ErrAlreadyReviewed) {
		t.Fatalf("expected AlreadyReviewed, got %v", err)
	}
}

func TestSubmitAsCustomer_Rejections(t *testing.T) {
	ctx := context.Background()

	f := setup(t, model.StatusDone, true)
	stranger := f.caller
	stranger.Email = "bob@example.com"
	unverified := f.caller
	unverified.EmailVerified = false
	staff := f.caller
	staff.Role = model.RoleStaff

	for name, caller := range map[string]model.Caller{"stranger": stranger, "unverified": unverified, "staff": staff} {
		if _, err := f.resolver.SubmitAsCustomer(ctx, caller, f.appt.ID, Submission{Rating: 5}); !errors.Is(err, model.ErrUnauthorized) {
			t.Fatalf("%s: expected Unauthorized, got %v", name, err)
		}
	}

	pending := setup(t, model.StatusConfirmed, true)
	if _, err := pending.resolver.SubmitAsCustomer(ctx, pending.caller, pending.appt.ID, Submission{Rating: 5}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput for unfinished appointment, got %v", err)
	}
	if _, err := f.resolver.SubmitAsCustomer(ctx, f.caller, f.appt.ID, Submission{Rating: 6}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput for rating 6, got %v", err)
	}
	if _, err := f.resolver.SubmitAsCustomer(ctx, f.caller, "missing", Submission{Rating: 5}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestConcurrentSubmissionsStoreOneReview(t *testing.T) {
	f := setup(t, model.StatusDone, true)
	ctx := context.Background()
	token := f.token(t)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.resolver.SubmitWithToken(ctx, token, Submission{Rating: 5})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.resolver.SubmitAsCustomer(ctx, f.caller, f.appt.ID, Submission{Rating: 1})
	}()
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, model.ErrAlreadyReviewed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || len(f.store.Reviews()) != 1 {
		t.Fatalf("expected exactly one stored review, ok=%d reviews=%d", ok, len(f.store.Reviews()))
	}
}

func TestNormalizeComment(t *testing.T) {
	if NormalizeComment(" \n ") != nil {
		t.Fatalf("blank comment should be nil")
	}
	long := strings.Repeat("é", MaxCommentLen+50)
	got := NormalizeComment(long)
	if got == nil || len([]rune(*got)) != MaxCommentLen {
		t.Fatalf("expected %d characters", MaxCommentLen)
	}
}
