// internal/db/orgs.go
package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Organization struct {
	ID       int64
	Name     string
	Slug     string
	Timezone string
}

func (q *Queries) CreateOrganization(ctx context.Context, name, slug, timezone string) (Organization, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO organizations (name, slug, timezone) VALUES (?, ?, ?)`,
		name, slug, timezone)
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Organization{}, err
	}
	return Organization{ID: id, Name: name, Slug: slug, Timezone: timezone}, nil
}

func (q *Queries) GetOrganization(ctx context.Context, id int64) (Organization, error) {
	var org Organization
	err := q.db.QueryRowContext(ctx, `
        SELECT id, name, slug, timezone FROM organizations WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &org.Slug, &org.Timezone)
	return org, err
}

// Location loads the org's timezone, falling back to UTC when the stored
// name cannot be resolved.
func (o Organization) Location() *time.Location {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type IntegrationSettings struct {
	OrgID                int64
	RemindersEnabled     bool
	ReminderHours        int64
	FriendSharingEnabled bool
	LeadWebhookTokenHash string
}

// GetIntegrationSettings returns the org settings row, or zero-value
// settings (everything off) when none has been written yet.
func (q *Queries) GetIntegrationSettings(ctx context.Context, orgID int64) (IntegrationSettings, error) {
	s := IntegrationSettings{OrgID: orgID}
	err := q.db.QueryRowContext(ctx, `
        SELECT reminders_enabled, reminder_hours, friend_sharing_enabled, lead_webhook_token_hash
        FROM integration_settings WHERE org_id = ?`, orgID).
		Scan(&s.RemindersEnabled, &s.ReminderHours, &s.FriendSharingEnabled, &s.LeadWebhookTokenHash)
	if err != nil {
		if isNoRows(err) {
			return IntegrationSettings{OrgID: orgID}, nil
		}
		return IntegrationSettings{}, err
	}
	return s, nil
}

func (q *Queries) UpsertIntegrationSettings(ctx context.Context, s IntegrationSettings) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO integration_settings
            (org_id, reminders_enabled, reminder_hours, friend_sharing_enabled, lead_webhook_token_hash, updated_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (org_id) DO UPDATE SET
            reminders_enabled = excluded.reminders_enabled,
            reminder_hours = excluded.reminder_hours,
            friend_sharing_enabled = excluded.friend_sharing_enabled,
            lead_webhook_token_hash = excluded.lead_webhook_token_hash,
            updated_at = CURRENT_TIMESTAMP`,
		s.OrgID, s.RemindersEnabled, s.ReminderHours, s.FriendSharingEnabled, s.LeadWebhookTokenHash)
	return err
}

type Coach struct {
	ID    int64
	OrgID int64
	Name  string
	Email string
}

func (q *Queries) CreateCoach(ctx context.Context, orgID int64, name, email string) (Coach, error) {
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO coaches (org_id, name, email) VALUES (?, ?, ?)`,
		orgID, name, email)
	if err != nil {
		return Coach{}, fmt.Errorf("insert coach: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Coach{}, err
	}
	return Coach{ID: id, OrgID: orgID, Name: name, Email: email}, nil
}

func (q *Queries) GetCoach(ctx context.Context, orgID, id int64) (Coach, error) {
	var c Coach
	err := q.db.QueryRowContext(ctx, `
        SELECT id, org_id, name, email FROM coaches WHERE org_id = ? AND id = ?`,
		orgID, id).Scan(&c.ID, &c.OrgID, &c.Name, &c.Email)
	return c, err
}

func (q *Queries) CreateLocation(ctx context.Context, orgID int64, name string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO locations (org_id, name) VALUES (?, ?)`, orgID, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// prefixed qualifies each column in a comma-separated column list with a
// table alias, for joins.
func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
