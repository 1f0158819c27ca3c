package push

import (
	"context"
	"testing"

	"studiobook/internal/db"
	"studiobook/internal/testutil"
)

// statusSender returns a canned status per endpoint.
type statusSender struct {
	statuses map[string]int
	sent     []string
}

func (s *statusSender) Send(ctx context.Context, sub db.PushSubscription, payload []byte) (int, error) {
	s.sent = append(s.sent, sub.Endpoint)
	if status, ok := s.statuses[sub.Endpoint]; ok {
		return status, nil
	}
	return 201, nil
}

func setup(t *testing.T) (*db.DB, int64, int64) {
	t.Helper()
	database := testutil.NewTestDB(t)
	ctx := context.Background()

	org, err := database.Queries.CreateOrganization(ctx, "Test Studio", "test-studio", "UTC")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	p, err := database.Queries.CreateParticipant(ctx, db.CreateParticipantParams{
		OrgID:     org.ID,
		FirstName: "Alice",
	})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return database, org.ID, p.ID
}

func addSub(t *testing.T, database *db.DB, orgID, userID int64, endpoint string) {
	t.Helper()
	err := database.Queries.CreatePushSubscription(context.Background(), db.CreatePushSubscriptionParams{
		OrgID:    orgID,
		UserID:   userID,
		Endpoint: endpoint,
		P256dh:   "p256dh-key",
		Auth:     "auth-key",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
}

func TestNotifyUserDelivers(t *testing.T) {
	database, orgID, userID := setup(t)
	addSub(t, database, orgID, userID, "https://push.example.com/a")

	sender := &statusSender{}
	svc := NewService(database, sender)

	if !svc.NotifyUser(context.Background(), orgID, userID, Message{Title: "Hi"}) {
		t.Error("expected delivery to succeed")
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent to %d endpoints, want 1", len(sender.sent))
	}
}

func TestNotifyUserNoSubscriptions(t *testing.T) {
	database, orgID, userID := setup(t)
	svc := NewService(database, &statusSender{})

	if svc.NotifyUser(context.Background(), orgID, userID, Message{Title: "Hi"}) {
		t.Error("delivery without subscriptions should report false")
	}
}

func TestNotifyUserHealsStaleSubscriptions(t *testing.T) {
	database, orgID, userID := setup(t)
	ctx := context.Background()
	addSub(t, database, orgID, userID, "https://push.example.com/stale")
	addSub(t, database, orgID, userID, "https://push.example.com/live")

	sender := &statusSender{statuses: map[string]int{
		"https://push.example.com/stale": 410,
	}}
	svc := NewService(database, sender)

	if !svc.NotifyUser(ctx, orgID, userID, Message{Title: "Hi"}) {
		t.Error("live subscription should still deliver")
	}

	subs, err := database.Queries.ListPushSubscriptions(ctx, orgID, userID)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example.com/live" {
		t.Errorf("stale subscription not removed: %+v", subs)
	}

	// Push stays enabled while a live subscription remains.
	p, err := database.Queries.GetParticipant(ctx, orgID, userID)
	if err != nil {
		t.Fatalf("load participant: %v", err)
	}
	if !p.PushEnabled {
		t.Error("push flag cleared while a subscription remains")
	}
}

func TestNotifyUserDisablesPushWhenAllStale(t *testing.T) {
	database, orgID, userID := setup(t)
	ctx := context.Background()
	addSub(t, database, orgID, userID, "https://push.example.com/stale")

	sender := &statusSender{statuses: map[string]int{
		"https://push.example.com/stale": 404,
	}}
	svc := NewService(database, sender)

	if svc.NotifyUser(ctx, orgID, userID, Message{Title: "Hi"}) {
		t.Error("all-stale delivery should report false")
	}

	subs, err := database.Queries.ListPushSubscriptions(ctx, orgID, userID)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("%d subscriptions remain, want 0", len(subs))
	}
	p, err := database.Queries.GetParticipant(ctx, orgID, userID)
	if err != nil {
		t.Fatalf("load participant: %v", err)
	}
	if p.PushEnabled {
		t.Error("push flag should be cleared when the last subscription dies")
	}
}
