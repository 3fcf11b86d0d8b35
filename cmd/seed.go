package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/duespark/dunning/internal/config"
	"github.com/duespark/dunning/internal/db"
	"github.com/duespark/dunning/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants, playbooks and invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		if err := seedTenants(sqlDB); err != nil {
			return err
		}
		if err := seedPlaybook(sqlDB); err != nil {
			return err
		}
		if err := seedInvoices(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedTenants inserts deterministic demo tenants (idempotent on api_key).
func seedTenants(dbx *sqlx.DB) error {
	tenants := []model.Tenant{
		{
			Name:         "Acme Corp",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Foobar LLC",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Suspended Inc",
			APIKey:       "33333333333333333333333333333333",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	const q = `
INSERT INTO tenants
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name        = VALUES(name),
    status      = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at  = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, t := range tenants {
		if _, err := tx.Exec(q, t.Name, t.APIKey, t.Status, t.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenants: %w", err)
	}
	return nil
}

// seedPlaybook creates a 3-step overdue playbook for tenant 1 (idempotent).
func seedPlaybook(dbx *sqlx.DB) error {
	const pb = `
INSERT INTO playbooks (id, tenant_id, name, trigger_type, trigger_offset_days, enabled, created_at, updated_at)
VALUES ('pb-demo-overdue', 1, 'Overdue follow-up', 'post_due', 3, TRUE, NOW(), NOW())
ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)
`
	if _, err := dbx.Exec(pb); err != nil {
		return fmt.Errorf("insert playbook: %w", err)
	}

	steps := []struct {
		id      string
		order   int
		channel string
		subject string
		body    string
		wait    int
		noResp  bool
	}{
		{
			"pbm-demo-1", 0, "email",
			"Invoice {{invoice_number}} is overdue",
			"Hi {{first_name}},\n\nInvoice {{invoice_number}} for {{amount}} was due on {{due_date}}. Could you take a look?\n\nThanks,\n{{company_name}}",
			0, false,
		},
		{
			"pbm-demo-2", 1, "email",
			"Reminder: invoice {{invoice_number}} ({{days_overdue}} days overdue)",
			"Hi {{first_name}},\n\nJust following up on invoice {{invoice_number}} for {{amount}}. It is now {{days_overdue}} days past due.\n\nThanks,\n{{company_name}}",
			3, true,
		},
		{
			"pbm-demo-3", 2, "whatsapp",
			"",
			"Hi {{first_name}}, final reminder about invoice {{invoice_number}} ({{amount}}), due {{due_date}}. Please get in touch.",
			4, true,
		},
	}

	const ins = `
INSERT INTO playbook_messages
    (id, playbook_id, sequence_order, channel, subject_template, body_template, wait_days, send_only_if_no_response)
VALUES (?, 'pb-demo-overdue', ?, ?, NULLIF(?, ''), ?, ?, ?)
ON DUPLICATE KEY UPDATE body_template = VALUES(body_template)
`
	for _, s := range steps {
		if _, err := dbx.Exec(ins, s.id, s.order, s.channel, s.subject, s.body, s.wait, s.noResp); err != nil {
			return fmt.Errorf("insert playbook message %s: %w", s.id, err)
		}
	}
	return nil
}

// seedInvoices creates a demo company, contact, invoice and an active
// collection that is immediately eligible.
func seedInvoices(dbx *sqlx.DB) error {
	stmts := []string{
		`INSERT INTO companies (id, tenant_id, name, created_at, updated_at)
		 VALUES ('co-demo-1', 1, 'Globex Industries', NOW(), NOW())
		 ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
		`INSERT INTO contacts (id, tenant_id, company_id, first_name, last_name, email, phone, created_at, updated_at)
		 VALUES ('ct-demo-1', 1, 'co-demo-1', 'Hank', 'Scorpio', 'hank@globex.example', '+15550100', NOW(), NOW())
		 ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
		`INSERT INTO invoices (id, tenant_id, company_id, number, amount_cents, currency, due_date, status, created_at, updated_at)
		 VALUES ('inv-demo-1', 1, 'co-demo-1', 'INV-1001', 125000, 'USD', DATE_SUB(CURDATE(), INTERVAL 7 DAY), 'open', NOW(), NOW())
		 ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
		`INSERT INTO collections (id, tenant_id, invoice_id, company_id, primary_contact_id, playbook_id,
		                          status, current_message_index, messages_sent_count, customer_responded,
		                          send_failures, next_action_at, created_at, updated_at)
		 VALUES ('col-demo-1', 1, 'inv-demo-1', 'co-demo-1', 'ct-demo-1', 'pb-demo-overdue',
		         'active', 0, 0, FALSE, 0, NOW(), NOW(), NOW())
		 ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
	}

	for _, q := range stmts {
		if _, err := dbx.Exec(q); err != nil {
			return fmt.Errorf("seed invoices: %w", err)
		}
	}
	return nil
}

func intptr(i int) *int { return &i }
