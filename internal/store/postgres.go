package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/refdata/dictstore/internal/core"
)

// DBTX abstracts over a pgxpool.Pool and a pgx.Tx so queries can run either
// standalone or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed core.Store. Value writes for a position run in
// a transaction holding a row lock on the position, so concurrent writers to
// the same (position, attribute) pair serialize; the exclusion constraint on
// dictionary_value is the backstop for the no-overlap invariant.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// mapErr translates driver errors into the core error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01": // exclusion_violation
			return core.ErrOverlappingValidity
		case "23505": // unique_violation
			return core.ErrDuplicateCode
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return err
}

// Dictionaries

const dictionaryColumns = `id, code, name, description, name_eng, description_eng,
	organization, classifier, status, dict_type, start_date, finish_date, match_key`

func scanDictionary(row pgx.Row) (*core.Dictionary, error) {
	var d core.Dictionary
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Description, &d.NameEng,
		&d.DescriptionEng, &d.Organization, &d.Classifier, &d.Status, &d.Type,
		&d.StartDate, &d.FinishDate, &d.MatchKey)
	if err != nil {
		return nil, mapErr(err)
	}
	d.StartDate = d.StartDate.UTC()
	d.FinishDate = d.FinishDate.UTC()
	return &d, nil
}

func (p *Postgres) CreateDictionary(ctx context.Context, d *core.Dictionary) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dictionary (`+dictionaryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.Code, d.Name, d.Description, d.NameEng, d.DescriptionEng,
		d.Organization, d.Classifier, d.Status, d.Type, d.StartDate, d.FinishDate,
		d.MatchKey)
	return mapErr(err)
}

func (p *Postgres) GetDictionary(ctx context.Context, id uuid.UUID) (*core.Dictionary, error) {
	return scanDictionary(p.pool.QueryRow(ctx, `
		SELECT `+dictionaryColumns+` FROM dictionary WHERE id = $1`, id))
}

func (p *Postgres) GetDictionaryByCode(ctx context.Context, code string) (*core.Dictionary, error) {
	return scanDictionary(p.pool.QueryRow(ctx, `
		SELECT `+dictionaryColumns+` FROM dictionary WHERE upper(code) = upper($1)`, code))
}

func (p *Postgres) ListDictionaries(ctx context.Context) ([]core.Dictionary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+dictionaryColumns+` FROM dictionary ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.Dictionary
	for rows.Next() {
		d, err := scanDictionary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, mapErr(rows.Err())
}

func (p *Postgres) UpdateDictionary(ctx context.Context, d *core.Dictionary) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE dictionary SET code = $2, name = $3, description = $4,
			name_eng = $5, description_eng = $6, organization = $7,
			classifier = $8, status = $9, dict_type = $10,
			start_date = $11, finish_date = $12, match_key = $13
		WHERE id = $1`,
		d.ID, d.Code, d.Name, d.Description, d.NameEng, d.DescriptionEng,
		d.Organization, d.Classifier, d.Status, d.Type, d.StartDate, d.FinishDate,
		d.MatchKey)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dictionary %s: %w", d.ID, core.ErrNotFound)
	}
	return nil
}

// Attribute definitions

func (p *Postgres) CreateAttribute(ctx context.Context, a *core.AttributeDefinition) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dictionary_attribute
			(id, dictionary_id, name, alt_name, attr_type, required, capacity,
			 start_date, finish_date, ordinal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.DictionaryID, a.Name, a.AltName, a.Type, a.Required, a.Capacity,
		a.StartDate, a.FinishDate, a.Ordinal)
	return mapErr(err)
}

func (p *Postgres) ListAttributes(ctx context.Context, dictionaryID uuid.UUID) ([]core.AttributeDefinition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, dictionary_id, name, alt_name, attr_type, required, capacity,
		       start_date, finish_date, ordinal
		FROM dictionary_attribute
		WHERE dictionary_id = $1
		ORDER BY ordinal`, dictionaryID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.AttributeDefinition
	for rows.Next() {
		var a core.AttributeDefinition
		if err := rows.Scan(&a.ID, &a.DictionaryID, &a.Name, &a.AltName, &a.Type,
			&a.Required, &a.Capacity, &a.StartDate, &a.FinishDate, &a.Ordinal); err != nil {
			return nil, mapErr(err)
		}
		a.StartDate = a.StartDate.UTC()
		a.FinishDate = a.FinishDate.UTC()
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}

// Positions

func (p *Postgres) CreatePosition(ctx context.Context, pos *core.Position) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dictionary_position (id, dictionary_id) VALUES ($1, $2)`,
		pos.ID, pos.DictionaryID)
	return mapErr(err)
}

func (p *Postgres) GetPosition(ctx context.Context, id uuid.UUID) (*core.Position, error) {
	var pos core.Position
	err := p.pool.QueryRow(ctx, `
		SELECT id, dictionary_id FROM dictionary_position WHERE id = $1`, id).
		Scan(&pos.ID, &pos.DictionaryID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &pos, nil
}

func (p *Postgres) ListPositionIDs(ctx context.Context, dictionaryID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id FROM dictionary_position WHERE dictionary_id = $1 ORDER BY id`,
		dictionaryID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, id)
	}
	return ids, mapErr(rows.Err())
}

func (p *Postgres) DeletePosition(ctx context.Context, id uuid.UUID) error {
	// dictionary_value rows cascade on delete.
	tag, err := p.pool.Exec(ctx, `DELETE FROM dictionary_position WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Values

// lockPosition takes a row lock serializing value writes to one position.
func lockPosition(ctx context.Context, tx DBTX, positionID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM dictionary_position WHERE id = $1 FOR UPDATE`, positionID).
		Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("position %s: %w", positionID, core.ErrNotFound)
		}
		return mapErr(err)
	}
	return nil
}

func (p *Postgres) InsertValue(ctx context.Context, v *core.AttributeValue) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := lockPosition(ctx, tx, v.PositionID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO dictionary_value
			(id, position_id, attribute_id, value, start_date, finish_date)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.PositionID, v.AttributeID, v.Value, v.StartDate, v.FinishDate); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) ReplaceValue(ctx context.Context, v *core.AttributeValue) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := lockPosition(ctx, tx, v.PositionID); err != nil {
		return err
	}

	// Close the value effective at the new start. A predecessor whose window
	// would become empty is removed instead.
	closeAt := v.StartDate.AddDate(0, 0, -1)
	if _, err := tx.Exec(ctx, `
		DELETE FROM dictionary_value
		WHERE position_id = $1 AND attribute_id = $2 AND start_date = $3`,
		v.PositionID, v.AttributeID, v.StartDate); err != nil {
		return mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE dictionary_value SET finish_date = $4
		WHERE position_id = $1 AND attribute_id = $2
		  AND $3 BETWEEN start_date AND finish_date`,
		v.PositionID, v.AttributeID, v.StartDate, closeAt); err != nil {
		return mapErr(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO dictionary_value
			(id, position_id, attribute_id, value, start_date, finish_date)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.PositionID, v.AttributeID, v.Value, v.StartDate, v.FinishDate); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) ListValues(ctx context.Context, positionID, attributeID uuid.UUID) ([]core.AttributeValue, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, position_id, attribute_id, value, start_date, finish_date
		FROM dictionary_value
		WHERE position_id = $1 AND attribute_id = $2
		ORDER BY start_date`, positionID, attributeID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectValues(rows)
}

func (p *Postgres) EffectiveValues(ctx context.Context, positionID uuid.UUID, asOf time.Time) ([]core.AttributeValue, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, position_id, attribute_id, value, start_date, finish_date
		FROM dictionary_value
		WHERE position_id = $1 AND $2 BETWEEN start_date AND finish_date`,
		positionID, asOf)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectValues(rows)
}

func (p *Postgres) FindPositionByValue(ctx context.Context, dictionaryID, attributeID uuid.UUID, encoded string, asOf time.Time) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		SELECT v.position_id
		FROM dictionary_value v
		JOIN dictionary_position p ON p.id = v.position_id
		WHERE p.dictionary_id = $1 AND v.attribute_id = $2 AND v.value = $3
		  AND $4 BETWEEN v.start_date AND v.finish_date
		ORDER BY v.position_id
		LIMIT 1`, dictionaryID, attributeID, encoded, asOf).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, mapErr(err)
	}
	return id, true, nil
}

func collectValues(rows pgx.Rows) ([]core.AttributeValue, error) {
	var out []core.AttributeValue
	for rows.Next() {
		var v core.AttributeValue
		if err := rows.Scan(&v.ID, &v.PositionID, &v.AttributeID, &v.Value,
			&v.StartDate, &v.FinishDate); err != nil {
			return nil, mapErr(err)
		}
		v.StartDate = v.StartDate.UTC()
		v.FinishDate = v.FinishDate.UTC()
		out = append(out, v)
	}
	return out, mapErr(rows.Err())
}

// Ownership

func (p *Postgres) AddOwner(ctx context.Context, o core.Owner) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dictionary_owner (dictionary_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (dictionary_id, user_id) DO NOTHING`,
		o.DictionaryID, o.UserID)
	return mapErr(err)
}

func (p *Postgres) ListOwners(ctx context.Context, dictionaryID uuid.UUID) ([]core.Owner, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT dictionary_id, user_id FROM dictionary_owner
		WHERE dictionary_id = $1 ORDER BY user_id`, dictionaryID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.Owner
	for rows.Next() {
		var o core.Owner
		if err := rows.Scan(&o.DictionaryID, &o.UserID); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, o)
	}
	return out, mapErr(rows.Err())
}

// Audit

func (p *Postgres) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	var positionID any
	if e.PositionID != uuid.Nil {
		positionID = e.PositionID
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_log
			(id, action, severity, dictionary_id, position_id, attribute,
			 old_value, new_value, user_id, department, rows_affected, detail,
			 created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Action, e.Severity, e.DictionaryID, positionID, e.Attribute,
		e.OldValue, e.NewValue, e.UserID, e.Department, e.RowsAffected, e.Detail,
		e.CreatedAt)
	return mapErr(err)
}

func (p *Postgres) ListAudit(ctx context.Context, q core.AuditQuery) ([]core.AuditEntry, error) {
	sql := `
		SELECT id, action, severity, dictionary_id, COALESCE(position_id, $5),
		       attribute, old_value, new_value, user_id, department,
		       rows_affected, detail, created_at
		FROM audit_log
		WHERE ($1::uuid IS NULL OR dictionary_id = $1)
		  AND ($2::text IS NULL OR action = $2)
		  AND ($3::text IS NULL OR user_id = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		ORDER BY created_at DESC`

	var (
		dictID any
		action any
		userID any
		since  any
	)
	if q.DictionaryID != uuid.Nil {
		dictID = q.DictionaryID
	}
	if q.Action != "" {
		action = string(q.Action)
	}
	if q.UserID != "" {
		userID = q.UserID
	}
	if !q.Since.IsZero() {
		since = q.Since
	}
	args := []any{dictID, action, userID, since, uuid.Nil}
	if q.Limit > 0 {
		sql += ` LIMIT $6`
		args = append(args, q.Limit)
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Severity, &e.DictionaryID,
			&e.PositionID, &e.Attribute, &e.OldValue, &e.NewValue, &e.UserID,
			&e.Department, &e.RowsAffected, &e.Detail, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}
