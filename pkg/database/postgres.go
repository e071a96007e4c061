package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"github.com/Geniuskaa/team_registration/internal/config"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zapadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("record not found")

//go:embed schema.sql
var schema string

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func PoolCreation(ctx context.Context, logger *zap.Logger, conf *config.Entity) *pgxpool.Pool {
	dbConf, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		conf.DB.User, conf.DB.Pass, conf.DB.Hostname, conf.DB.Port, conf.DB.Name))
	if err != nil {
		logger.Panic("Err db config parsing", zap.Error(fmt.Errorf("poolCreation failed: %w", err)))
	}
	dbConf.ConnConfig.Logger = zapadapter.NewLogger(logger)
	dbConf.ConnConfig.LogLevel = pgx.LogLevelError
	dbConf.MaxConnIdleTime = time.Second * 10
	dbConf.MaxConnLifetime = time.Duration(conf.DB.ConnLifeTime) * time.Minute
	dbConf.MaxConns = conf.DB.MaxOpenConns
	dbConf.MinConns = conf.DB.MinConns

	pool, err := pgxpool.ConnectConfig(ctx, dbConf)
	if err != nil {
		logger.Panic("Err connection to DB", zap.Error(fmt.Errorf("poolCreation failed: %w", err)))
	}

	return pool
}

// Migrate creates missing tables. It is safe to run on every start.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("Migrate failed: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// inTx runs fn inside its own transaction, committing on success.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (p *Postgres) CreateRegistration(ctx context.Context) (team.Registration, error) {
	reg := team.Registration{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO registration (id, created_at) VALUES ($1, $2)`, reg.ID, reg.CreatedAt)
		return err
	})
	if err != nil {
		return team.Registration{}, fmt.Errorf("CreateRegistration failed: %w", err)
	}
	return reg, nil
}

func (p *Postgres) GetRegistration(ctx context.Context, id uuid.UUID) (team.Registration, error) {
	reg := team.Registration{ID: id}
	var completed pgtype.Timestamptz
	err := p.Pool.QueryRow(ctx, `SELECT created_at, completed_at FROM registration WHERE id = $1`, id).
		Scan(&reg.CreatedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return team.Registration{}, ErrNotFound
	}
	if err != nil {
		return team.Registration{}, fmt.Errorf("GetRegistration failed: %w", err)
	}
	if completed.Status == pgtype.Present {
		at := completed.Time
		reg.CompletedAt = &at
	}
	return reg, nil
}

func (p *Postgres) GetSection(ctx context.Context, owner uuid.UUID, v team.Variant) (team.Section, error) {
	s := team.Section{RegistrationID: owner, Variant: v}
	fields := v.Fields()
	columns := make([]string, len(fields))
	dest := make([]interface{}, len(fields))
	text := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Column
		if f.Field == team.FieldClass {
			dest[i] = &s.Class
			continue
		}
		dest[i] = &text[i]
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE registration_id = $1`, strings.Join(columns, ", "), v.Table())
	err := p.Pool.QueryRow(ctx, query, owner).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return team.Section{}, ErrNotFound
	}
	if err != nil {
		return team.Section{}, fmt.Errorf("GetSection failed: %w", err)
	}

	for i, f := range fields {
		if f.Field != team.FieldClass {
			s.Set(f.Field, text[i])
		}
	}
	return s, nil
}

func (p *Postgres) UpsertSection(ctx context.Context, s team.Section) error {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		return upsertSection(ctx, tx, s)
	})
	if err != nil {
		return fmt.Errorf("UpsertSection failed: %w", err)
	}
	return nil
}

// upsertSection relies on the unique registration_id constraint so that
// concurrent first submits collapse into one row.
func upsertSection(ctx context.Context, q querier, s team.Section) error {
	columns, args := sectionColumns(s)
	holders := make([]string, len(columns))
	updates := make([]string, 0, len(columns)-1)
	for i, c := range columns {
		holders[i] = "$" + strconv.Itoa(i+1)
		if i > 0 {
			updates = append(updates, c+" = EXCLUDED."+c)
		}
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (registration_id) DO UPDATE SET %s`,
		s.Variant.Table(), strings.Join(columns, ", "), strings.Join(holders, ", "), strings.Join(updates, ", "))
	_, err := q.Exec(ctx, query, args...)
	return err
}

// updateSection only touches an existing row. A section removed since it
// was read stays removed.
func updateSection(ctx context.Context, q querier, s team.Section) error {
	columns, args := sectionColumns(s)
	sets := make([]string, 0, len(columns)-1)
	for i, c := range columns[1:] {
		sets = append(sets, c+" = $"+strconv.Itoa(i+2))
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE registration_id = $1`, s.Variant.Table(), strings.Join(sets, ", "))
	_, err := q.Exec(ctx, query, args...)
	return err
}

// sectionColumns lists registration_id first, then the variant's columns.
func sectionColumns(s team.Section) ([]string, []interface{}) {
	fields := s.Variant.Fields()
	columns := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+1)

	columns = append(columns, "registration_id")
	args = append(args, s.RegistrationID)
	for _, f := range fields {
		columns = append(columns, f.Column)
		if f.Field == team.FieldClass {
			args = append(args, s.Class)
			continue
		}
		args = append(args, s.Value(f.Field))
	}
	return columns, args
}

func (p *Postgres) DeleteSection(ctx context.Context, owner uuid.UUID, v team.Variant) error {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE registration_id = $1`, v.Table()), owner)
		return err
	})
	if err != nil {
		return fmt.Errorf("DeleteSection failed: %w", err)
	}
	return nil
}

func (p *Postgres) ClearSection(ctx context.Context, owner uuid.UUID, v team.Variant) error {
	fields := v.Fields()
	sets := make([]string, len(fields))
	for i, f := range fields {
		if f.Field == team.FieldClass {
			sets[i] = f.Column + " = 0"
			continue
		}
		sets[i] = f.Column + " = ''"
	}

	var affected int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE registration_id = $1`,
			v.Table(), strings.Join(sets, ", ")), owner)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("ClearSection failed: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetPhoto(ctx context.Context, owner uuid.UUID) (team.Photo, error) {
	return p.findPhoto(ctx, `WHERE registration_id = $1`, owner)
}

func (p *Postgres) GetPhotoByID(ctx context.Context, owner uuid.UUID, id int64) (team.Photo, error) {
	return p.findPhoto(ctx, `WHERE registration_id = $1 AND id = $2`, owner, id)
}

func (p *Postgres) GetPhotoByName(ctx context.Context, owner uuid.UUID, filename string) (team.Photo, error) {
	return p.findPhoto(ctx, `WHERE registration_id = $1 AND filename = $2`, owner, filename)
}

func (p *Postgres) findPhoto(ctx context.Context, where string, args ...interface{}) (team.Photo, error) {
	var photo team.Photo
	err := p.Pool.QueryRow(ctx, `SELECT id, registration_id, filename, data FROM photo `+where+` ORDER BY id LIMIT 1`, args...).
		Scan(&photo.ID, &photo.RegistrationID, &photo.Filename, &photo.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return team.Photo{}, ErrNotFound
	}
	if err != nil {
		return team.Photo{}, fmt.Errorf("findPhoto failed: %w", err)
	}
	return photo, nil
}

// ReplacePhoto drops any photo the registration has and stores the new one.
func (p *Postgres) ReplacePhoto(ctx context.Context, photo team.Photo) (team.Photo, error) {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockRegistration(ctx, tx, photo.RegistrationID); err != nil {
			return err
		}
		id, err := replacePhoto(ctx, tx, photo)
		photo.ID = id
		return err
	})
	if err != nil {
		return team.Photo{}, fmt.Errorf("ReplacePhoto failed: %w", err)
	}
	return photo, nil
}

func replacePhoto(ctx context.Context, q querier, photo team.Photo) (int64, error) {
	if _, err := q.Exec(ctx, `DELETE FROM photo WHERE registration_id = $1`, photo.RegistrationID); err != nil {
		return 0, err
	}
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO photo (registration_id, filename, data) VALUES ($1, $2, $3) RETURNING id`,
		photo.RegistrationID, photo.Filename, photo.Data).Scan(&id)
	return id, err
}

// lockRegistration serializes writers of one registration for the rest of
// the transaction.
func lockRegistration(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM registration WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Complete writes every section, an optional replacement photo and the
// completion time in one transaction. Optional sections are only updated, so
// one deleted after the caller read it is not brought back.
func (p *Postgres) Complete(ctx context.Context, owner uuid.UUID, sections []team.Section, photo *team.Photo, at time.Time) error {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockRegistration(ctx, tx, owner); err != nil {
			return err
		}
		for _, s := range sections {
			write := upsertSection
			if s.Variant.Optional() {
				write = updateSection
			}
			if err := write(ctx, tx, s); err != nil {
				return err
			}
		}
		if photo != nil {
			id, err := replacePhoto(ctx, tx, *photo)
			if err != nil {
				return err
			}
			photo.ID = id
		}
		_, err := tx.Exec(ctx, `UPDATE registration SET completed_at = $2 WHERE id = $1`, owner, at)
		return err
	})
	if err != nil {
		return fmt.Errorf("Complete failed: %w", err)
	}
	return nil
}
