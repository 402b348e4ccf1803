package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/scheduler/internal/platform/db"
)

// NewPGStore wires the postgres repositories around one pool.
func NewPGStore(pool *pgxpool.Pool) Store {
	return Store{
		Tx:             db.NewTxManager(pool),
		Availabilities: NewAvailabilityRepoPG(pool),
		Slots:          NewSlotRepoPG(pool),
		Appointments:   NewAppointmentRepoPG(pool),
	}
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const availCols = `id, owner_id, slot_duration_minutes, is_repeating, repeat_until,
	availability_date, generated, version_id, created_at, updated_at`

const patternCols = `id, availability_id, weekday, start_minute, end_minute, slot_duration_minutes`

func (r *availabilityRepoPG) scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	err := row.Scan(&a.ID, &a.OwnerID, &a.SlotDurationMinutes, &a.IsRepeating, &a.RepeatUntil,
		&a.AvailabilityDate, &a.Generated, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAvailabilityNotFound
	}
	return &a, err
}

func (r *availabilityRepoPG) Create(ctx context.Context, a *Availability) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability (id, owner_id, slot_duration_minutes, is_repeating, repeat_until,
			availability_date, generated, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		a.ID, a.OwnerID, a.SlotDurationMinutes, a.IsRepeating, a.RepeatUntil,
		a.AvailabilityDate, a.Generated, a.VersionID).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrAvailabilityExists
	}
	if err != nil {
		return err
	}
	return r.insertPatterns(ctx, a)
}

func (r *availabilityRepoPG) insertPatterns(ctx context.Context, a *Availability) error {
	for i := range a.WeekdayPatterns {
		p := &a.WeekdayPatterns[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.AvailabilityID = a.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO weekday_pattern (id, availability_id, weekday, start_minute, end_minute, slot_duration_minutes)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			p.ID, p.AvailabilityID, string(p.Weekday), int(p.StartTime), int(p.EndTime), p.SlotDurationMinutes); err != nil {
			return fmt.Errorf("insert %s pattern: %w", p.Weekday, err)
		}
	}
	return nil
}

func (r *availabilityRepoPG) loadPatterns(ctx context.Context, a *Availability) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patternCols+` FROM weekday_pattern WHERE availability_id = $1`, a.ID)
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

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	a, err := r.scanAvailability(r.conn(ctx).QueryRow(ctx, `SELECT `+availCols+` FROM availability WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadPatterns(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *availabilityRepoPG) Update(ctx context.Context, a *Availability) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability SET slot_duration_minutes=$2, is_repeating=$3, repeat_until=$4,
			availability_date=$5, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1
		RETURNING version_id, updated_at`,
		a.ID, a.SlotDurationMinutes, a.IsRepeating, a.RepeatUntil, a.AvailabilityDate).Scan(&a.VersionID, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAvailabilityNotFound
	}
	if db.IsUniqueViolation(err) {
		return ErrAvailabilityExists
	}
	if err != nil {
		return err
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekday_pattern WHERE availability_id = $1`, a.ID); err != nil {
		return fmt.Errorf("delete patterns: %w", err)
	}
	for i := range a.WeekdayPatterns {
		a.WeekdayPatterns[i].ID = uuid.Nil
	}
	return r.insertPatterns(ctx, a)
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *availabilityRepoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Availability, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM availability WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+availCols+` FROM availability WHERE owner_id = $1
		ORDER BY availability_date LIMIT $2 OFFSET $3`, ownerID, limit, offset)
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
	// Patterns are loaded after the cursor is closed; a transaction cannot
	// run a second query while rows are open.
	for _, a := range items {
		if err := r.loadPatterns(ctx, a); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// LatestByOwner does not load patterns.
func (r *availabilityRepoPG) LatestByOwner(ctx context.Context, ownerID uuid.UUID) (*Availability, error) {
	a, err := r.scanAvailability(r.conn(ctx).QueryRow(ctx, `SELECT `+availCols+` FROM availability
		WHERE owner_id = $1 ORDER BY availability_date DESC LIMIT 1`, ownerID))
	if errors.Is(err, ErrAvailabilityNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *availabilityRepoPG) ExistsForOwnerOnDate(ctx context.Context, ownerID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM availability WHERE owner_id = $1 AND availability_date = $2)`, ownerID, date).Scan(&exists)
	return exists, err
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const slotCols = `id, availability_id, weekday_pattern_id, start_time, end_time, is_active, is_booked`

func (r *slotRepoPG) scanSlot(row pgx.Row) (*ScheduleSlot, error) {
	var s ScheduleSlot
	err := row.Scan(&s.ID, &s.AvailabilityID, &s.WeekdayPatternID, &s.StartTime, &s.EndTime, &s.IsActive, &s.IsBooked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	s.StartTime, s.EndTime = s.StartTime.UTC(), s.EndTime.UTC()
	return &s, err
}

func (r *slotRepoPG) CreateBatch(ctx context.Context, slots []*ScheduleSlot) error {
	if len(slots) == 0 {
		return nil
	}
	_, err := r.conn(ctx).CopyFrom(ctx,
		pgx.Identifier{"schedule_slot"},
		[]string{"id", "availability_id", "weekday_pattern_id", "start_time", "end_time", "is_active", "is_booked"},
		pgx.CopyFromSlice(len(slots), func(i int) ([]interface{}, error) {
			s := slots[i]
			return []interface{}{s.ID, s.AvailabilityID, s.WeekdayPatternID, s.StartTime, s.EndTime, s.IsActive, s.IsBooked}, nil
		}))
	return err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM schedule_slot WHERE id = $1`, id))
}

func (r *slotRepoPG) ListByAvailability(ctx context.Context, availabilityID uuid.UUID, limit, offset int) ([]*ScheduleSlot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedule_slot WHERE availability_id = $1`, availabilityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM schedule_slot WHERE availability_id = $1
		ORDER BY start_time LIMIT $2 OFFSET $3`, availabilityID, limit, offset)
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

func (r *slotRepoPG) CountBooked(ctx context.Context, availabilityID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedule_slot
		WHERE availability_id = $1 AND is_booked = TRUE`, availabilityID).Scan(&n)
	return n, err
}

func (r *slotRepoPG) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE schedule_slot SET is_booked = TRUE
		WHERE id = $1 AND is_booked = FALSE AND is_active = TRUE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE schedule_slot SET is_booked = FALSE
		WHERE id = $1 AND is_booked = TRUE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE schedule_slot SET is_active = $2
		WHERE id = $1 AND is_booked = FALSE`, id, active)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `a.id, a.provider_id, a.subject_id, a.slot_id, a.reason, a.type, a.status, a.created_at, a.updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var typ, status string
	err := row.Scan(&a.ID, &a.ProviderID, &a.SubjectID, &a.SlotID, &a.Reason, &typ, &status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	a.Type, a.Status = AppointmentType(typ), AppointmentStatus(status)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, provider_id, subject_id, slot_id, reason, type, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		a.ID, a.ProviderID, a.SubjectID, a.SlotID, a.Reason, string(a.Type), string(a.Status)).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrSlotUnavailable
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment a WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET reason=$2, type=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`, a.ID, a.Reason, string(a.Type)).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	return err
}

func (r *appointmentRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointment SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LockProvider takes a transaction-scoped advisory lock keyed on the
// provider, so overlap check and claim of two different slots cannot
// interleave.
func (r *appointmentRepoPG) LockProvider(ctx context.Context, providerID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID.String())
	return err
}

func (r *appointmentRepoPG) CountByAvailability(ctx context.Context, availabilityID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment a
		JOIN schedule_slot s ON s.id = a.slot_id
		WHERE s.availability_id = $1`, availabilityID).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM appointment a JOIN schedule_slot s ON s.id = a.slot_id
		WHERE a.provider_id = $1 AND a.status <> 'CANCELLED'
			AND s.start_time < $3 AND s.end_time > $2)`, providerID, start, end).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) Search(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ProviderID != nil {
		where += fmt.Sprintf(` AND a.provider_id = $%d`, idx)
		args = append(args, *f.ProviderID)
		idx++
	}
	if f.SubjectID != nil {
		where += fmt.Sprintf(` AND a.subject_id = $%d`, idx)
		args = append(args, *f.SubjectID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND a.status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(` AND a.type = $%d`, idx)
		args = append(args, string(f.Type))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment a` + where +
		fmt.Sprintf(` ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
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

func (r *appointmentRepoPG) ListElapsed(ctx context.Context, t time.Time, limit int) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+`
		FROM appointment a JOIN schedule_slot s ON s.id = a.slot_id
		WHERE a.status = 'SCHEDULED' AND s.end_time <= $1
		ORDER BY s.end_time LIMIT $2`, t, limit)
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

// sortPatterns orders patterns Monday first.
func sortPatterns(ps []WeekdayPattern) {
	sort.Slice(ps, func(i, j int) bool {
		return isoDay(ps[i].Weekday) < isoDay(ps[j].Weekday)
	})
}

func isoDay(w Weekday) int {
	return (int(w.TimeWeekday()) + 6) % 7
}
