// internal/db/notifications.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type CoachEvent struct {
	ID         int64
	OrgID      int64
	LocationID int64
	EventType  string
	Title      string
	Body       string
	CreatedAt  time.Time
}

type CreateCoachEventParams struct {
	OrgID      int64
	LocationID int64
	EventType  string
	Title      string
	Body       string
}

func (q *Queries) CreateCoachEvent(ctx context.Context, arg CreateCoachEventParams) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO coach_events (org_id, location_id, event_type, title, body)
        VALUES (?, ?, ?, ?, ?)`,
		arg.OrgID, arg.LocationID, arg.EventType, arg.Title, arg.Body)
	if err != nil {
		return fmt.Errorf("insert coach event: %w", err)
	}
	return nil
}

type UserNotification struct {
	ID               int64
	OrgID            int64
	UserID           int64
	NotificationType string
	Title            string
	Body             string
	Read             bool
	CreatedAt        time.Time
}

type CreateUserNotificationParams struct {
	OrgID            int64
	UserID           int64
	NotificationType string
	Title            string
	Body             string
}

func (q *Queries) CreateUserNotification(ctx context.Context, arg CreateUserNotificationParams) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO user_notifications (org_id, user_id, notification_type, title, body)
        VALUES (?, ?, ?, ?, ?)`,
		arg.OrgID, arg.UserID, arg.NotificationType, arg.Title, arg.Body)
	if err != nil {
		return fmt.Errorf("insert user notification: %w", err)
	}
	return nil
}

func (q *Queries) ListUserNotifications(ctx context.Context, orgID, userID int64, limit int64) ([]UserNotification, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, org_id, user_id, notification_type, title, body, read, created_at
        FROM user_notifications
        WHERE org_id = ? AND user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, orgID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []UserNotification
	for rows.Next() {
		var n UserNotification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.UserID, &n.NotificationType,
			&n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (q *Queries) CountUserNotifications(ctx context.Context, orgID, userID int64) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM user_notifications WHERE org_id = ? AND user_id = ?`,
		orgID, userID).Scan(&count)
	return count, err
}

type PushSubscription struct {
	ID       int64
	OrgID    int64
	UserID   int64
	Endpoint string
	P256dh   string
	Auth     string
}

type CreatePushSubscriptionParams struct {
	OrgID    int64
	UserID   int64
	Endpoint string
	P256dh   string
	Auth     string
}

func (q *Queries) CreatePushSubscription(ctx context.Context, arg CreatePushSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO push_subscriptions (org_id, user_id, endpoint, p256dh, auth)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id, endpoint) DO UPDATE SET
            p256dh = excluded.p256dh,
            auth = excluded.auth`,
		arg.OrgID, arg.UserID, arg.Endpoint, arg.P256dh, arg.Auth)
	if err != nil {
		return fmt.Errorf("insert push subscription: %w", err)
	}
	return nil
}

func (q *Queries) ListPushSubscriptions(ctx context.Context, orgID, userID int64) ([]PushSubscription, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, org_id, user_id, endpoint, p256dh, auth
        FROM push_subscriptions
        WHERE org_id = ? AND user_id = ?`, orgID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPushSubscriptions(rows)
}

func (q *Queries) DeletePushSubscription(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	return err
}

func scanPushSubscriptions(rows *sql.Rows) ([]PushSubscription, error) {
	var subs []PushSubscription
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.ID, &s.OrgID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
