package model

import "time"

// Invoice carries the fields the worker maps into message templates.
// Amounts are minor units (cents) with an ISO currency code.
type Invoice struct {
	ID          string    `db:"id"`
	TenantID    int64     `db:"tenant_id"`
	CompanyID   string    `db:"company_id"`
	Number      string    `db:"number"`
	AmountCents int64     `db:"amount_cents"`
	Currency    string    `db:"currency"`
	DueDate     time.Time `db:"due_date"`
	Status      string    `db:"status"` // open|paid|void
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// DaysOverdue is negative before the due date.
func (i Invoice) DaysOverdue(now time.Time) int {
	return int(now.Sub(i.DueDate).Hours() / 24)
}

type Company struct {
	ID        string    `db:"id"`
	TenantID  int64     `db:"tenant_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type Contact struct {
	ID        string    `db:"id"`
	TenantID  int64     `db:"tenant_id"`
	CompanyID string    `db:"company_id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	Phone     string    `db:"phone"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Address returns the send target for the given channel.
func (c Contact) Address(ch Channel) string {
	if ch == ChannelWhatsApp {
		return c.Phone
	}
	return c.Email
}
