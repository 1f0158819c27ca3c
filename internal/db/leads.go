// internal/db/leads.go
package db

import (
	"context"
	"fmt"
	"time"
)

type Lead struct {
	ID        int64
	OrgID     int64
	Name      string
	Email     string
	Phone     string
	Source    string
	Message   string
	CreatedAt time.Time
}

type CreateLeadParams struct {
	OrgID   int64
	Name    string
	Email   string
	Phone   string
	Source  string
	Message string
}

func (q *Queries) CreateLead(ctx context.Context, arg CreateLeadParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO leads (org_id, name, email, phone, source, message)
        VALUES (?, ?, ?, ?, ?, ?)`,
		arg.OrgID, arg.Name, arg.Email, arg.Phone, arg.Source, arg.Message)
	if err != nil {
		return 0, fmt.Errorf("insert lead: %w", err)
	}
	return res.LastInsertId()
}
