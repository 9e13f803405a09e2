package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"slackline/internal/errors"
	"slackline/internal/migrations"
	"slackline/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the authoritative store for scheduled messages. It exclusively
// owns the status field: the Scheduler and the cancellation path both request
// transitions through the guarded Transition operations below and never
// mutate status directly.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := newEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const messageColumns = `
	id, channel_id, body, sender_type, created_by, workspace_token,
	status, post_at, next_attempt_at, attempt_count, external_id,
	last_error, created_at, updated_at
`

// CreateMessage persists a new scheduled message. The record must be in the
// pending state unless it represents an immediate send, which is inserted
// already sent.
func (d *Database) CreateMessage(ctx context.Context, msg *models.ScheduledMessage) error {
	encryptedBody, err := d.encryptor.EncryptIfEnabled(msg.Body)
	if err != nil {
		return fmt.Errorf("failed to encrypt message body: %w", err)
	}

	workspaceToken, err := d.encryptor.EncryptIfEnabled(msg.WorkspaceToken())
	if err != nil {
		return fmt.Errorf("failed to encrypt workspace token: %w", err)
	}

	query := `
		INSERT INTO scheduled_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query,
			msg.ID,
			msg.ChannelID,
			encryptedBody,
			msg.Sender,
			msg.CreatedBy,
			workspaceToken,
			msg.Status,
			msg.PostAt.UTC(),
			nullableTime(msg.NextAttemptAt),
			msg.AttemptCount,
			nullableString(msg.ExternalID),
			nullableString(msg.LastError),
			msg.CreatedAt.UTC(),
			msg.UpdatedAt.UTC(),
		)
		return execErr
	}, "create message")

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errors.New(errors.ErrCodeConflict, "message id already exists").WithContext("id", msg.ID)
		}
		return errors.NewDatabaseError("create message", err)
	}

	return nil
}

// GetMessage retrieves a message by id. Returns a NOT_FOUND error when no
// record exists.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM scheduled_messages WHERE id = ?`

	row := d.db.QueryRowContext(ctx, query, id)
	msg, err := d.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeNotFound, "no message with that id").WithContext("id", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get message", err)
	}
	return msg, nil
}

// ListMessagesByChannel returns all messages for a channel ordered by
// creation time ascending.
func (d *Database) ListMessagesByChannel(ctx context.Context, channelID string) ([]*models.ScheduledMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM scheduled_messages
		WHERE channel_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, errors.NewDatabaseError("list messages", err)
	}
	defer rows.Close()

	var out []*models.ScheduledMessage
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan message", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list messages", err)
	}

	return out, nil
}

// Transition is the guarded compare-and-swap over the status field: it
// succeeds only if the stored status currently equals from. It is the single
// synchronization point that keeps the Scheduler and a concurrent
// cancellation from both completing on the same message. A failed swap
// resolves to NOT_FOUND when the id is unknown and ALREADY_FINAL otherwise.
func (d *Database) Transition(ctx context.Context, id string, from, to models.Status) error {
	query := `
		UPDATE scheduled_messages
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.guardedUpdate(ctx, id, from, "transition", query, to, time.Now().UTC(), id, from)
}

// TransitionSent finalizes a claimed message as delivered, recording the
// external message id assigned by the workspace API.
func (d *Database) TransitionSent(ctx context.Context, id, externalID string) error {
	query := `
		UPDATE scheduled_messages
		SET status = ?, external_id = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.guardedUpdate(ctx, id, models.StatusAttempting, "finalize sent", query,
		models.StatusSent, externalID, time.Now().UTC(), id, models.StatusAttempting)
}

// ReleaseForRetry returns a claimed message to pending after a failed
// delivery attempt and parks it until nextAttemptAt.
func (d *Database) ReleaseForRetry(ctx context.Context, id, deliveryErr string, nextAttemptAt time.Time) error {
	query := `
		UPDATE scheduled_messages
		SET status = ?, attempt_count = attempt_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.guardedUpdate(ctx, id, models.StatusAttempting, "release for retry", query,
		models.StatusPending, deliveryErr, nextAttemptAt.UTC(), time.Now().UTC(), id, models.StatusAttempting)
}

// MarkFailed finalizes a claimed message whose retry budget is exhausted.
func (d *Database) MarkFailed(ctx context.Context, id, deliveryErr string) error {
	query := `
		UPDATE scheduled_messages
		SET status = ?, attempt_count = attempt_count + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.guardedUpdate(ctx, id, models.StatusAttempting, "mark failed", query,
		models.StatusFailed, deliveryErr, time.Now().UTC(), id, models.StatusAttempting)
}

// ListDue returns pending messages whose target time (or retry park time)
// has elapsed, oldest target first. Callers still have to win the
// pending -> attempting swap before delivering.
func (d *Database) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM scheduled_messages
		WHERE status = ? AND COALESCE(next_attempt_at, post_at) <= ?
		ORDER BY post_at ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, models.StatusPending, now.UTC(), limit)
	if err != nil {
		return nil, errors.NewDatabaseError("list due", err)
	}
	defer rows.Close()

	var out []*models.ScheduledMessage
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan due message", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list due", err)
	}

	return out, nil
}

// NextWakeTime returns the earliest moment any pending message becomes due,
// or nil when nothing is pending.
func (d *Database) NextWakeTime(ctx context.Context) (*time.Time, error) {
	query := `
		SELECT MIN(COALESCE(next_attempt_at, post_at))
		FROM scheduled_messages
		WHERE status = ?
	`

	var next sql.NullTime
	err := d.db.QueryRowContext(ctx, query, models.StatusPending).Scan(&next)
	if err != nil {
		return nil, errors.NewDatabaseError("next wake time", err)
	}
	if !next.Valid {
		return nil, nil
	}
	t := next.Time.UTC()
	return &t, nil
}

// guardedUpdate runs a status-guarded UPDATE and resolves a zero-row result
// to NOT_FOUND or ALREADY_FINAL.
func (d *Database) guardedUpdate(ctx context.Context, id string, from models.Status, op, query string, args ...interface{}) error {
	var rows int64
	err := retryableDBOperation(ctx, func() error {
		result, execErr := d.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		var raErr error
		rows, raErr = result.RowsAffected()
		return raErr
	}, op)
	if err != nil {
		return errors.NewDatabaseError(op, err)
	}

	if rows > 0 {
		return nil
	}

	var current models.Status
	err = d.db.QueryRowContext(ctx, `SELECT status FROM scheduled_messages WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return errors.New(errors.ErrCodeNotFound, "no message with that id").WithContext("id", id)
	}
	if err != nil {
		return errors.NewDatabaseError(op, err)
	}

	return errors.New(errors.ErrCodeAlreadyFinal, fmt.Sprintf("message is %s, expected %s", current, from)).
		WithContext("id", id).
		WithContext("status", string(current))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.ScheduledMessage, error) {
	var (
		msg            models.ScheduledMessage
		encryptedBody  string
		encryptedToken string
		nextAttemptAt  sql.NullTime
		externalID     sql.NullString
		lastError      sql.NullString
	)

	err := row.Scan(
		&msg.ID,
		&msg.ChannelID,
		&encryptedBody,
		&msg.Sender,
		&msg.CreatedBy,
		&encryptedToken,
		&msg.Status,
		&msg.PostAt,
		&nextAttemptAt,
		&msg.AttemptCount,
		&externalID,
		&lastError,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Body, err = d.encryptor.DecryptIfEnabled(encryptedBody)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message body: %w", err)
	}

	token, err := d.encryptor.DecryptIfEnabled(encryptedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt workspace token: %w", err)
	}
	msg.SetWorkspaceToken(token)

	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		msg.NextAttemptAt = &t
	}
	if externalID.Valid {
		v := externalID.String
		msg.ExternalID = &v
	}
	if lastError.Valid {
		v := lastError.String
		msg.LastError = &v
	}

	return &msg, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
