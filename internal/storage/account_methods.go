package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/track-server/track-server-pro/internal/models"
)

// ========== Account Methods ==========

// CreateAccount creates a new account
func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
        INSERT INTO accounts (
            id, created_at, updated_at, account_id, description, contact_name,
            is_active, http_webhook_url, mqtt_broker_url, mqtt_username,
            mqtt_password, mqtt_topic
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.getDB().ExecContext(ctx, query,
		account.ID, account.CreatedAt, account.UpdatedAt, account.AccountID,
		account.Description, account.ContactName, account.IsActive,
		account.HTTPWebhookURL, account.MQTTBrokerURL, account.MQTTUsername,
		account.MQTTPassword, account.MQTTTopic,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetAccount gets an account by its account ID
func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	query := `
        SELECT id, created_at, updated_at, account_id, description, contact_name,
               is_active, http_webhook_url, mqtt_broker_url, mqtt_username,
               mqtt_password, mqtt_topic, last_event_at
        FROM accounts WHERE account_id = $1`

	account := &models.Account{}
	err := s.getDB().QueryRowContext(ctx, query, accountID).Scan(
		&account.ID, &account.CreatedAt, &account.UpdatedAt, &account.AccountID,
		&account.Description, &account.ContactName, &account.IsActive,
		&account.HTTPWebhookURL, &account.MQTTBrokerURL, &account.MQTTUsername,
		&account.MQTTPassword, &account.MQTTTopic, &account.LastEventAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return account, nil
}

// UpdateAccount updates an account
func (s *PostgresStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now()

	query := `
        UPDATE accounts SET
            updated_at = $1, description = $2, contact_name = $3, is_active = $4,
            http_webhook_url = $5, mqtt_broker_url = $6, mqtt_username = $7,
            mqtt_password = $8, mqtt_topic = $9, last_event_at = $10
        WHERE account_id = $11`

	result, err := s.getDB().ExecContext(ctx, query,
		account.UpdatedAt, account.Description, account.ContactName,
		account.IsActive, account.HTTPWebhookURL, account.MQTTBrokerURL,
		account.MQTTUsername, account.MQTTPassword, account.MQTTTopic,
		account.LastEventAt, account.AccountID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteAccount deletes an account
func (s *PostgresStore) DeleteAccount(ctx context.Context, accountID string) error {
	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM accounts WHERE account_id = $1`, accountID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListAccounts lists accounts with pagination
func (s *PostgresStore) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, created_at, updated_at, account_id, description, contact_name,
               is_active, http_webhook_url, mqtt_broker_url, mqtt_username,
               mqtt_password, mqtt_topic, last_event_at
        FROM accounts ORDER BY account_id LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account := &models.Account{}
		err := rows.Scan(
			&account.ID, &account.CreatedAt, &account.UpdatedAt, &account.AccountID,
			&account.Description, &account.ContactName, &account.IsActive,
			&account.HTTPWebhookURL, &account.MQTTBrokerURL, &account.MQTTUsername,
			&account.MQTTPassword, &account.MQTTTopic, &account.LastEventAt,
		)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}

	return accounts, total, rows.Err()
}

// ========== Service Account Methods ==========

// CreateServiceAccount creates a new service account
func (s *PostgresStore) CreateServiceAccount(ctx context.Context, sa *models.ServiceAccount) error {
	if sa.ID == uuid.Nil {
		sa.ID = uuid.New()
	}

	now := time.Now()
	sa.CreatedAt = now
	sa.UpdatedAt = now

	query := `
        INSERT INTO service_accounts (
            id, created_at, updated_at, name, email, password_hash,
            is_admin, account_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		sa.ID, sa.CreatedAt, sa.UpdatedAt, sa.Name, sa.Email,
		sa.PasswordHash, sa.IsAdmin, sa.AccountID,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetServiceAccount gets a service account by ID
func (s *PostgresStore) GetServiceAccount(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error) {
	query := `
        SELECT id, created_at, updated_at, name, email, password_hash,
               is_admin, account_id, last_login_at
        FROM service_accounts WHERE id = $1`

	sa := &models.ServiceAccount{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&sa.ID, &sa.CreatedAt, &sa.UpdatedAt, &sa.Name, &sa.Email,
		&sa.PasswordHash, &sa.IsAdmin, &sa.AccountID, &sa.LastLoginAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return sa, nil
}

// GetServiceAccountByEmail gets a service account by email
func (s *PostgresStore) GetServiceAccountByEmail(ctx context.Context, email string) (*models.ServiceAccount, error) {
	query := `
        SELECT id, created_at, updated_at, name, email, password_hash,
               is_admin, account_id, last_login_at
        FROM service_accounts WHERE email = $1`

	sa := &models.ServiceAccount{}
	err := s.getDB().QueryRowContext(ctx, query, email).Scan(
		&sa.ID, &sa.CreatedAt, &sa.UpdatedAt, &sa.Name, &sa.Email,
		&sa.PasswordHash, &sa.IsAdmin, &sa.AccountID, &sa.LastLoginAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return sa, nil
}

// UpdateServiceAccount updates a service account
func (s *PostgresStore) UpdateServiceAccount(ctx context.Context, sa *models.ServiceAccount) error {
	sa.UpdatedAt = time.Now()

	query := `
        UPDATE service_accounts SET
            updated_at = $1, name = $2, email = $3, password_hash = $4,
            is_admin = $5, account_id = $6, last_login_at = $7
        WHERE id = $8`

	result, err := s.getDB().ExecContext(ctx, query,
		sa.UpdatedAt, sa.Name, sa.Email, sa.PasswordHash,
		sa.IsAdmin, sa.AccountID, sa.LastLoginAt, sa.ID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
