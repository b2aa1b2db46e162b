package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore keeps rides as JSON documents next to the columns the
// conditional writes need, and chat/notification records as plain rows.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sqlx.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(id, ride_request_id, driver_id, passenger_id, status, doc, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.RideRequestID, r.DriverID, r.PassengerID, r.Status, doc, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var doc []byte
	err := p.db.QueryRowxContext(ctx, `SELECT doc FROM rides WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r models.Ride
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode ride %s: %w", id, err)
	}
	return &r, nil
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride, expected models.RideStatus) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET status=$1, doc=$2, updated_at=$3
		WHERE id=$4 AND status=$5 AND driver_id=$6 AND passenger_id=$7`,
		r.Status, doc, r.UpdatedAt, r.ID, expected, r.DriverID, r.PassengerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowxContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, r.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

const threadColumns = `id, kind, ride_request_id, user_id, driver_id, status, is_active, last_message,
	last_message_at, last_message_sender_id, unread_user, unread_driver, created_at, updated_at`

func (p *PostgresStore) CreateThread(ctx context.Context, t *models.Thread) error {
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO chat_threads(`+threadColumns+`)
		VALUES(:id, :kind, :ride_request_id, :user_id, :driver_id, :status, :is_active, :last_message,
		:last_message_at, :last_message_sender_id, :unread_user, :unread_driver, :created_at, :updated_at)`, t)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	err := p.db.GetContext(ctx, &t, `SELECT `+threadColumns+` FROM chat_threads WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) ThreadByRideRequest(ctx context.Context, rideRequestID string) (*models.Thread, error) {
	var t models.Thread
	err := p.db.GetContext(ctx, &t, `SELECT `+threadColumns+` FROM chat_threads
		WHERE kind=$1 AND ride_request_id=$2 ORDER BY created_at DESC LIMIT 1`, models.ThreadHandoff, rideRequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) ThreadsFor(ctx context.Context, actorID string, role models.Role) ([]models.Thread, error) {
	col := "user_id"
	switch role {
	case models.RoleRider:
	case models.RoleDriver:
		col = "driver_id"
	default:
		return nil, nil
	}
	var out []models.Thread
	err := p.db.SelectContext(ctx, &out, `SELECT `+threadColumns+` FROM chat_threads WHERE `+col+`=$1
		ORDER BY COALESCE(last_message_at, created_at) DESC`, actorID)
	return out, err
}

func (p *PostgresStore) RecordMessage(ctx context.Context, threadID, senderID string, senderRole models.Role, body string, at time.Time) error {
	inc := ""
	switch senderRole {
	case models.RoleRider:
		inc = ", unread_driver = unread_driver + 1"
	case models.RoleDriver:
		inc = ", unread_user = unread_user + 1"
	}
	res, err := p.db.ExecContext(ctx, `UPDATE chat_threads
		SET last_message=$1, last_message_at=$2, last_message_sender_id=$3, updated_at=$2`+inc+`
		WHERE id=$4`, body, at, senderID, threadID)
	return rowsOrNotFound(res, err)
}

func (p *PostgresStore) ResetUnread(ctx context.Context, threadID string, role models.Role) error {
	col := ""
	switch role {
	case models.RoleRider:
		col = "unread_user"
	case models.RoleDriver:
		col = "unread_driver"
	default:
		return nil
	}
	res, err := p.db.ExecContext(ctx, `UPDATE chat_threads SET `+col+`=0 WHERE id=$1`, threadID)
	return rowsOrNotFound(res, err)
}

func (p *PostgresStore) CloseThread(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE chat_threads SET status=$1, is_active=false, updated_at=now() WHERE id=$2`,
		models.ThreadClosed, id)
	return rowsOrNotFound(res, err)
}

const messageColumns = `id, thread_id, kind, sender_id, sender_role, body, message_type, file_url, file_name,
	reply_to_message_id, is_read, read_at, is_deleted, deleted_at, created_at`

func (p *PostgresStore) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO chat_messages(`+messageColumns+`)
		VALUES(:id, :thread_id, :kind, :sender_id, :sender_role, :body, :message_type, :file_url, :file_name,
		:reply_to_message_id, :is_read, :read_at, :is_deleted, :deleted_at, :created_at)`, m)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := p.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresStore) MarkRead(ctx context.Context, threadID string, ids []string, readerID string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := p.db.ExecContext(ctx, `UPDATE chat_messages SET is_read=true, read_at=$1
		WHERE thread_id=$2 AND id = ANY($3) AND sender_id <> $4 AND is_read=false`,
		at, threadID, pq.Array(ids), readerID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *PostgresStore) SoftDelete(ctx context.Context, id, senderID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE chat_messages SET is_deleted=true, deleted_at=$1, body=$2
		WHERE id=$3 AND sender_id=$4`, at, models.DeletedMarker, id, senderID)
	return rowsOrNotFound(res, err)
}

func (p *PostgresStore) ListMessages(ctx context.Context, threadID string, offset, limit int) ([]models.Message, int, error) {
	var total int
	if err := p.db.GetContext(ctx, &total, `SELECT count(*) FROM chat_messages WHERE thread_id=$1 AND is_deleted=false`, threadID); err != nil {
		return nil, 0, err
	}
	var page []models.Message
	err := p.db.SelectContext(ctx, &page, `SELECT `+messageColumns+` FROM chat_messages
		WHERE thread_id=$1 AND is_deleted=false ORDER BY created_at DESC OFFSET $2 LIMIT $3`, threadID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, total, nil
}

func (p *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO notifications(id, recipient_id, type, title, message, ride_id, sender_id, data, delivered, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,false,$9)`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.RideID, n.SenderID, data, n.CreatedAt)
	return err
}

func (p *PostgresStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE notifications SET delivered=true, delivered_at=$1 WHERE id=$2`, at, id)
	return rowsOrNotFound(res, err)
}

func (p *PostgresStore) Undelivered(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryxContext(ctx, `SELECT id, recipient_id, type, title, message, ride_id, sender_id, data, created_at
		FROM notifications WHERE recipient_id=$1 AND delivered=false ORDER BY created_at ASC LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var (
			n    models.Notification
			data []byte
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.RideID, &n.SenderID, &data, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &n.Data)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertLocation(ctx context.Context, s models.LocationSample) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_locations(user_id, ride_id, latitude, longitude, accuracy, speed, recorded_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id, ride_id) DO UPDATE SET latitude=EXCLUDED.latitude, longitude=EXCLUDED.longitude,
		accuracy=EXCLUDED.accuracy, speed=EXCLUDED.speed, recorded_at=EXCLUDED.recorded_at`,
		s.UserID, s.RideID, s.Latitude, s.Longitude, s.Accuracy, s.Speed, s.Timestamp)
	return err
}

func (p *PostgresStore) Locations(ctx context.Context, rideID string) ([]models.LocationSample, error) {
	rows, err := p.db.QueryxContext(ctx, `SELECT user_id, ride_id, latitude, longitude, accuracy, speed, recorded_at
		FROM ride_locations WHERE ride_id=$1 ORDER BY recorded_at DESC`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.LocationSample
	for rows.Next() {
		var s models.LocationSample
		if err := rows.Scan(&s.UserID, &s.RideID, &s.Latitude, &s.Longitude, &s.Accuracy, &s.Speed, &s.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Profile(ctx context.Context, id string) (*models.Profile, error) {
	var pr models.Profile
	err := p.db.GetContext(ctx, &pr, `SELECT id, COALESCE(full_name, '') AS full_name, COALESCE(phone_number, '') AS phone_number
		FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresStore) Vehicles(ctx context.Context, userID string) ([]models.Vehicle, error) {
	var out []models.Vehicle
	err := p.db.SelectContext(ctx, &out, `SELECT id, user_id, license_plate, make_model, category, is_active
		FROM vehicles WHERE user_id=$1 AND is_active=true ORDER BY created_at ASC`, userID)
	return out, err
}

func (p *PostgresStore) Claim(ctx context.Context, rideRequestID, rideID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `INSERT INTO ride_request_claims(ride_request_id, ride_id, claimed_at)
		VALUES($1,$2,now()) ON CONFLICT (ride_request_id) DO NOTHING`, rideRequestID, rideID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Release(ctx context.Context, rideRequestID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM ride_request_claims WHERE ride_request_id=$1`, rideRequestID)
	return err
}

func rowsOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
