package scheduling

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/scheduler/internal/platform/db"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// MigrateSQLite creates the embedded schema; it is safe to run repeatedly.
func MigrateSQLite(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// NewSQLiteStore wires the embedded repositories around one database.
func NewSQLiteStore(conn *sql.DB) Store {
	return Store{
		Tx:             db.NewSQLTxManager(conn),
		Availabilities: &availabilityRepoSQLite{db: conn},
		Slots:          &slotRepoSQLite{db: conn},
		Appointments:   &appointmentRepoSQLite{db: conn},
	}
}

// SQLite keeps calendar dates as ISO text, slot instants as unix seconds and
// audit timestamps as unix nanoseconds.

func toDate(t time.Time) string { return t.Format(time.DateOnly) }

func fromDate(s string) (time.Time, error) { return time.Parse(time.DateOnly, s) }

func nowNanos() int64 { return time.Now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// =========== Availability Repository ===========

type availabilityRepoSQLite struct{ db *sql.DB }

func (r *availabilityRepoSQLite) conn(ctx context.Context) db.SQLQuerier { return db.SQLConn(ctx, r.db) }

func (r *availabilityRepoSQLite) scanAvailability(row rowScanner) (*Availability, error) {
	var a Availability
	var until sql.NullString
	var date string
	var created, updated int64
	err := row.Scan(&a.ID, &a.OwnerID, &a.SlotDurationMinutes, &a.IsRepeating, &until,
		&date, &a.Generated, &a.VersionID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAvailabilityNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.AvailabilityDate, err = fromDate(date); err != nil {
		return nil, fmt.Errorf("parse availability_date: %w", err)
	}
	if until.Valid {
		t, err := fromDate(until.String)
		if err != nil {
			return nil, fmt.Errorf("parse repeat_until: %w", err)
		}
		a.RepeatUntil = &t
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &a, nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: toDate(*t), Valid: true}
}

func (r *availabilityRepoSQLite) Create(ctx context.Context, a *Availability) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	now := nowNanos()
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO availability (id, owner_id, slot_duration_minutes, is_repeating, repeat_until,
			availability_date, generated, version_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OwnerID, a.SlotDurationMinutes, a.IsRepeating, nullDate(a.RepeatUntil),
		toDate(a.AvailabilityDate), a.Generated, a.VersionID, now, now)
	if db.IsUniqueViolation(err) {
		return ErrAvailabilityExists
	}
	if err != nil {
		return err
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(now), fromNanos(now)
	return r.insertPatterns(ctx, a)
}

func (r *availabilityRepoSQLite) insertPatterns(ctx context.Context, a *Availability) error {
	for i := range a.WeekdayPatterns {
		p := &a.WeekdayPatterns[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.AvailabilityID = a.ID
		if _, err := r.conn(ctx).ExecContext(ctx, `
			INSERT INTO weekday_pattern (id, availability_id, weekday, start_minute, end_minute, slot_duration_minutes)
			VALUES (?,?,?,?,?,?)`,
			p.ID, p.AvailabilityID, string(p.Weekday), int(p.StartTime), int(p.EndTime), p.SlotDurationMinutes); err != nil {
			return fmt.Errorf("insert %s pattern: %w", p.Weekday, err)
		}
	}
	return nil
}

func (r *availabilityRepoSQLite) loadPatterns(ctx context.Context, a *Availability) error {
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+patternCols+` FROM weekday_pattern WHERE availability_id = ?`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	a.WeekdayPatterns = nil
	for rows.Next() {
		var p WeekdayPattern
		var weekday string
		var start, end int
		if err := rows.Scan(&p.ID, &p.AvailabilityID, &weekday, &start, &end, &p.SlotDurationMinutes); err != nil {
			return err
		}
		p.Weekday, p.StartTime, p.EndTime = Weekday(weekday), ClockTime(start), ClockTime(end)
		a.WeekdayPatterns = append(a.WeekdayPatterns, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sortPatterns(a.WeekdayPatterns)
	return nil
}

func (r *availabilityRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	a, err := r.scanAvailability(r.conn(ctx).QueryRowContext(ctx, `SELECT `+availCols+` FROM availability WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadPatterns(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *availabilityRepoSQLite) Update(ctx context.Context, a *Availability) error {
	now := nowNanos()
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE availability SET slot_duration_minutes=?, is_repeating=?, repeat_until=?,
			availability_date=?, version_id=version_id+1, updated_at=?
		WHERE id = ?`,
		a.SlotDurationMinutes, a.IsRepeating, nullDate(a.RepeatUntil), toDate(a.AvailabilityDate), now, a.ID)
	if db.IsUniqueViolation(err) {
		return ErrAvailabilityExists
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAvailabilityNotFound
	}
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT version_id FROM availability WHERE id = ?`, a.ID).Scan(&a.VersionID); err != nil {
		return err
	}
	a.UpdatedAt = fromNanos(now)
	if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM weekday_pattern WHERE availability_id = ?`, a.ID); err != nil {
		return fmt.Errorf("delete patterns: %w", err)
	}
	for i := range a.WeekdayPatterns {
		a.WeekdayPatterns[i].ID = uuid.Nil
	}
	return r.insertPatterns(ctx, a)
}

func (r *availabilityRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM availability WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *availabilityRepoSQLite) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Availability, int, error) {
	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM availability WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+availCols+` FROM availability WHERE owner_id = ?
		ORDER BY availability_date LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*Availability
	for rows.Next() {
		a, err := r.scanAvailability(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		if err := r.loadPatterns(ctx, a); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *availabilityRepoSQLite) LatestByOwner(ctx context.Context, ownerID uuid.UUID) (*Availability, error) {
	a, err := r.scanAvailability(r.conn(ctx).QueryRowContext(ctx, `SELECT `+availCols+` FROM availability
		WHERE owner_id = ? ORDER BY availability_date DESC LIMIT 1`, ownerID))
	if errors.Is(err, ErrAvailabilityNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *availabilityRepoSQLite) ExistsForOwnerOnDate(ctx context.Context, ownerID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM availability WHERE owner_id = ? AND availability_date = ?)`, ownerID, toDate(date)).Scan(&exists)
	return exists, err
}

// =========== Slot Repository ===========

type slotRepoSQLite struct{ db *sql.DB }

func (r *slotRepoSQLite) conn(ctx context.Context) db.SQLQuerier { return db.SQLConn(ctx, r.db) }

const slotColsSQLite = `id, availability_id, weekday_pattern_id, start_unix, end_unix, is_active, is_booked`

func (r *slotRepoSQLite) scanSlot(row rowScanner) (*ScheduleSlot, error) {
	var s ScheduleSlot
	var start, end int64
	err := row.Scan(&s.ID, &s.AvailabilityID, &s.WeekdayPatternID, &start, &end, &s.IsActive, &s.IsBooked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	s.StartTime, s.EndTime = time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
	return &s, nil
}

func (r *slotRepoSQLite) CreateBatch(ctx context.Context, slots []*ScheduleSlot) error {
	for _, s := range slots {
		if _, err := r.conn(ctx).ExecContext(ctx, `
			INSERT INTO schedule_slot (`+slotColsSQLite+`) VALUES (?,?,?,?,?,?,?)`,
			s.ID, s.AvailabilityID, s.WeekdayPatternID, s.StartTime.Unix(), s.EndTime.Unix(), s.IsActive, s.IsBooked); err != nil {
			return fmt.Errorf("insert slot %s: %w", s.StartTime.Format(time.RFC3339), err)
		}
	}
	return nil
}

func (r *slotRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRowContext(ctx, `SELECT `+slotColsSQLite+` FROM schedule_slot WHERE id = ?`, id))
}

func (r *slotRepoSQLite) ListByAvailability(ctx context.Context, availabilityID uuid.UUID, limit, offset int) ([]*ScheduleSlot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_slot WHERE availability_id = ?`, availabilityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+slotColsSQLite+` FROM schedule_slot WHERE availability_id = ?
		ORDER BY start_unix LIMIT ? OFFSET ?`, availabilityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ScheduleSlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *slotRepoSQLite) CountBooked(ctx context.Context, availabilityID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_slot
		WHERE availability_id = ? AND is_booked = 1`, availabilityID).Scan(&n)
	return n, err
}

func (r *slotRepoSQLite) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *slotRepoSQLite) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exec(ctx, `UPDATE schedule_slot SET is_booked = 1
		WHERE id = ? AND is_booked = 0 AND is_active = 1`, id)
}

func (r *slotRepoSQLite) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exec(ctx, `UPDATE schedule_slot SET is_booked = 0 WHERE id = ? AND is_booked = 1`, id)
}

func (r *slotRepoSQLite) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	return r.exec(ctx, `UPDATE schedule_slot SET is_active = ? WHERE id = ? AND is_booked = 0`, active, id)
}

// =========== Appointment Repository ===========

type appointmentRepoSQLite struct{ db *sql.DB }

func (r *appointmentRepoSQLite) conn(ctx context.Context) db.SQLQuerier { return db.SQLConn(ctx, r.db) }

func (r *appointmentRepoSQLite) scanAppt(row rowScanner) (*Appointment, error) {
	var a Appointment
	var reason sql.NullString
	var typ, status string
	var created, updated int64
	err := row.Scan(&a.ID, &a.ProviderID, &a.SubjectID, &a.SlotID, &reason, &typ, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		a.Reason = &reason.String
	}
	a.Type, a.Status = AppointmentType(typ), AppointmentStatus(status)
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &a, nil
}

func (r *appointmentRepoSQLite) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	now := nowNanos()
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO appointment (id, provider_id, subject_id, slot_id, reason, type, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProviderID, a.SubjectID, a.SlotID, a.Reason, string(a.Type), string(a.Status), now, now)
	if db.IsUniqueViolation(err) {
		return ErrSlotUnavailable
	}
	if err != nil {
		return err
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(now), fromNanos(now)
	return nil
}

func (r *appointmentRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRowContext(ctx, `SELECT `+apptCols+` FROM appointment a WHERE a.id = ?`, id))
}

func (r *appointmentRepoSQLite) Update(ctx context.Context, a *Appointment) error {
	now := nowNanos()
	res, err := r.conn(ctx).ExecContext(ctx, `UPDATE appointment SET reason=?, type=?, updated_at=? WHERE id = ?`,
		a.Reason, string(a.Type), now, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAppointmentNotFound
	}
	a.UpdatedAt = fromNanos(now)
	return nil
}

func (r *appointmentRepoSQLite) TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `UPDATE appointment SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, string(to), nowNanos(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// LockProvider is a no-op: transactions begin IMMEDIATE, so writers are
// already serialised.
func (r *appointmentRepoSQLite) LockProvider(context.Context, uuid.UUID) error { return nil }

func (r *appointmentRepoSQLite) CountByAvailability(ctx context.Context, availabilityID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM appointment a
		JOIN schedule_slot s ON s.id = a.slot_id
		WHERE s.availability_id = ?`, availabilityID).Scan(&n)
	return n, err
}

func (r *appointmentRepoSQLite) HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM appointment a JOIN schedule_slot s ON s.id = a.slot_id
		WHERE a.provider_id = ? AND a.status <> 'CANCELLED'
			AND s.start_unix < ? AND s.end_unix > ?)`, providerID, end.Unix(), start.Unix()).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoSQLite) Search(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if f.ProviderID != nil {
		where += ` AND a.provider_id = ?`
		args = append(args, *f.ProviderID)
	}
	if f.SubjectID != nil {
		where += ` AND a.subject_id = ?`
		args = append(args, *f.SubjectID)
	}
	if f.Status != "" {
		where += ` AND a.status = ?`
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where += ` AND a.type = ?`
		args = append(args, string(f.Type))
	}

	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM appointment a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+apptCols+` FROM appointment a`+where+
		` ORDER BY a.created_at DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoSQLite) ListElapsed(ctx context.Context, t time.Time, limit int) ([]*Appointment, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+apptCols+`
		FROM appointment a JOIN schedule_slot s ON s.id = a.slot_id
		WHERE a.status = 'SCHEDULED' AND s.end_unix <= ?
		ORDER BY s.end_unix LIMIT ?`, t.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
