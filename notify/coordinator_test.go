package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/users"
)

func testCoordinator(t *testing.T) (*Coordinator, storage.Storage, *fakeWeb, *fakeMobile) {
	t.Helper()
	ctx := context.Background()

	userStore := users.NewMemory()
	for _, u := range []*users.User{
		{ID: "admin-1", Email: "admin@lira.com", Name: "Admin", Role: users.RoleAdmin},
		{ID: "parent-1", Email: "parent@example.com", Name: "Parent", Role: users.RoleParent},
		{ID: "child-1", Email: "child@example.com", Name: "Child", Role: users.RoleChild},
	} {
		if err := userStore.Save(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	subStore := storage.NewMemory()
	web := &fakeWeb{}
	mobile := &fakeMobile{}
	engine := NewEngine(web, mobile, subStore)
	return NewCoordinator(userStore, subStore, engine), subStore, web, mobile
}

func TestSendToUser_Forbidden(t *testing.T) {
	coord, store, web, mobile := testCoordinator(t)
	ctx := context.Background()
	seedWeb(t, store, "parent-1", "https://push.example.com/a")

	for _, caller := range []string{"parent-1", "child-1", "nobody"} {
		_, err := coord.SendToUser(ctx, caller, "parent-1", testPayload())
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("SendToUser(caller=%s) error = %v, want ErrForbidden", caller, err)
		}
	}

	// Authorization failures abort before any delivery attempt.
	if web.callCount() != 0 || len(mobile.batches) != 0 {
		t.Error("forbidden send issued transport calls")
	}
}

func TestSendToUser_ValidatesPayload(t *testing.T) {
	coord, store, web, _ := testCoordinator(t)
	ctx := context.Background()
	seedWeb(t, store, "parent-1", "https://push.example.com/a")

	tests := []struct {
		name    string
		payload *Payload
	}{
		{name: "nil payload", payload: nil},
		{name: "missing title", payload: &Payload{Body: "b"}},
		{name: "missing body", payload: &Payload{Title: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.SendToUser(ctx, "admin-1", "parent-1", tt.payload)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("SendToUser() error = %v, want ErrValidation", err)
			}
		})
	}
	if web.callCount() != 0 {
		t.Error("invalid payload issued transport calls")
	}
}

func TestSendToUser_NoSubscriptions(t *testing.T) {
	coord, _, web, mobile := testCoordinator(t)

	_, err := coord.SendToUser(context.Background(), "admin-1", "parent-1", testPayload())
	if !errors.Is(err, ErrNoSubscriptions) {
		t.Fatalf("SendToUser() error = %v, want ErrNoSubscriptions", err)
	}
	if web.callCount() != 0 || len(mobile.batches) != 0 {
		t.Error("send with no subscriptions issued transport calls")
	}
}

func TestSendToUser_Summary(t *testing.T) {
	coord, store, _, _ := testCoordinator(t)
	ctx := context.Background()
	seedWeb(t, store, "parent-1", "https://push.example.com/a")
	seedWeb(t, store, "parent-1", "https://push.example.com/b")

	summary, err := coord.SendToUser(ctx, "admin-1", "parent-1", testPayload())
	if err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	if summary.Sent != 2 || summary.Total != 2 || summary.Users != 1 {
		t.Errorf("summary = %d/%d across %d users, want 2/2 across 1", summary.Sent, summary.Total, summary.Users)
	}
	if len(summary.Results) != 2 {
		t.Errorf("results = %d, want 2", len(summary.Results))
	}
}

func TestSendToUser_TotalFailureStillReturnsSummary(t *testing.T) {
	coord, store, web, _ := testCoordinator(t)
	ctx := context.Background()
	seedWeb(t, store, "parent-1", "https://push.example.com/a")
	web.responses = map[string]error{
		"https://push.example.com/a": errors.New("connection reset"),
	}

	summary, err := coord.SendToUser(ctx, "admin-1", "parent-1", testPayload())
	if err != nil {
		t.Fatalf("SendToUser() error = %v; total delivery failure is not an operation error", err)
	}
	if summary.Sent != 0 || summary.Total != 1 {
		t.Errorf("summary = %d/%d, want 0/1", summary.Sent, summary.Total)
	}
}

func TestSendToMany_RequiresTargets(t *testing.T) {
	coord, _, _, _ := testCoordinator(t)

	_, err := coord.SendToMany(context.Background(), "admin-1", nil, testPayload())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("SendToMany() error = %v, want ErrValidation", err)
	}
}

func TestSendToMany_PoolsMobileAcrossUsers(t *testing.T) {
	coord, store, web, mobile := testCoordinator(t)
	ctx := context.Background()

	// u1 has two web devices, u2 has one mobile device.
	seedWeb(t, store, "parent-1", "https://push.example.com/a")
	seedWeb(t, store, "parent-1", "https://push.example.com/b")
	seedMobile(t, store, "child-1", "player-z")

	summary, err := coord.SendToMany(ctx, "admin-1", []string{"parent-1", "child-1"}, testPayload())
	if err != nil {
		t.Fatalf("SendToMany() error = %v", err)
	}

	if web.callCount() != 2 {
		t.Errorf("web attempts = %d, want 2", web.callCount())
	}
	if len(mobile.batches) != 1 {
		t.Fatalf("provider batch calls = %d, want exactly 1", len(mobile.batches))
	}
	if len(mobile.batches[0]) != 1 || mobile.batches[0][0] != "player-z" {
		t.Errorf("batch = %v, want [player-z]", mobile.batches[0])
	}
	if summary.Sent != 3 || summary.Total != 3 || summary.Users != 2 {
		t.Errorf("summary = %d/%d across %d users, want 3/3 across 2", summary.Sent, summary.Total, summary.Users)
	}
}

func TestSendToMany_EmptyTargetsAreNotErrors(t *testing.T) {
	coord, store, _, _ := testCoordinator(t)
	ctx := context.Background()
	seedWeb(t, store, "parent-1", "https://push.example.com/a")

	// child-1 has no devices; the aggregate still reflects parent-1's send.
	summary, err := coord.SendToMany(ctx, "admin-1", []string{"parent-1", "child-1"}, testPayload())
	if err != nil {
		t.Fatalf("SendToMany() error = %v", err)
	}
	if summary.Sent != 1 || summary.Total != 1 || summary.Users != 2 {
		t.Errorf("summary = %d/%d across %d users, want 1/1 across 2", summary.Sent, summary.Total, summary.Users)
	}

	// No target has any device: the aggregate is 0/0, not an error.
	summary, err = coord.SendToMany(ctx, "admin-1", []string{"child-1"}, testPayload())
	if err != nil {
		t.Fatalf("SendToMany() error = %v", err)
	}
	if summary.Sent != 0 || summary.Total != 0 {
		t.Errorf("summary = %d/%d, want 0/0", summary.Sent, summary.Total)
	}
}

func TestPayloadDefaults(t *testing.T) {
	p := &Payload{Title: "t", Body: "b"}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.Icon != DefaultIcon || p.Badge != DefaultIcon {
		t.Errorf("icon/badge = %q/%q, want %q", p.Icon, p.Badge, DefaultIcon)
	}
	if p.Data == nil {
		t.Error("data not defaulted to empty map")
	}
}
