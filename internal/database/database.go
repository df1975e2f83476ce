// internal/database/database.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of pgx behaviour the queries need. It is satisfied by
// *pgxpool.Pool and pgx.Tx alike, so the same Queries value works inside and
// outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// New wraps a pool or transaction in a Queries value.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Repository is a stored repository row. Ranking columns are nullable:
// placeholder rows carry no metrics until a ranking cycle includes them.
type Repository struct {
	ID           int64
	Owner        string
	Repo         string
	PositionCur  pgtype.Int4
	PositionPrev pgtype.Int4
	Stars        pgtype.Int4
	Watchers     pgtype.Int4
	Forks        pgtype.Int4
	OpenIssues   pgtype.Int4
	Language     pgtype.Text
}

// ActivityRecord is one stored day of commit activity.
type ActivityRecord struct {
	ID           int64
	RepositoryID int64
	Date         time.Time
	Commits      int32
	Authors      []string
}

// Querier is the query surface the sync engines depend on; tests substitute
// a mock for it.
type Querier interface {
	GetRepositoryByOwnerAndName(ctx context.Context, owner, repo string) (Repository, error)
	CreatePlaceholderRepository(ctx context.Context, owner, repo string) error
	UpsertRankedRepository(ctx context.Context, arg UpsertRankedRepositoryParams) error
	UpdateRankedRepository(ctx context.Context, arg UpdateRankedRepositoryParams) error
	ListRankedRepositories(ctx context.Context, limit *int32) ([]Repository, error)
	GetLatestActivityDate(ctx context.Context, repositoryID int64) (pgtype.Date, error)
	CreateActivityRecords(ctx context.Context, arg []CreateActivityRecordsParams) (int64, error)
	ListActivityInRange(ctx context.Context, arg ListActivityInRangeParams) ([]ActivityRecord, error)
}

var _ Querier = (*Queries)(nil)

const getRepositoryByOwnerAndName = `
SELECT id, owner, repo, position_cur, position_prev, stars, watchers, forks, open_issues, language
FROM repositories
WHERE owner = $1 AND repo = $2
`

func (q *Queries) GetRepositoryByOwnerAndName(ctx context.Context, owner, repo string) (Repository, error) {
	row := q.db.QueryRow(ctx, getRepositoryByOwnerAndName, owner, repo)
	var r Repository
	err := row.Scan(&r.ID, &r.Owner, &r.Repo, &r.PositionCur, &r.PositionPrev,
		&r.Stars, &r.Watchers, &r.Forks, &r.OpenIssues, &r.Language)
	return r, err
}

const createPlaceholderRepository = `
INSERT INTO repositories (owner, repo)
VALUES ($1, $2)
ON CONFLICT (owner, repo) DO NOTHING
`

// CreatePlaceholderRepository inserts a metrics-less row for an identity seen
// first through an activity query. Losing a creation race is a no-op; the
// caller re-selects afterwards either way.
func (q *Queries) CreatePlaceholderRepository(ctx context.Context, owner, repo string) error {
	_, err := q.db.Exec(ctx, createPlaceholderRepository, owner, repo)
	return err
}

type UpsertRankedRepositoryParams struct {
	Owner       string
	Repo        string
	PositionCur int32
	Stars       int32
	Watchers    int32
	Forks       int32
	OpenIssues  int32
	Language    pgtype.Text
}

const upsertRankedRepository = `
INSERT INTO repositories (owner, repo, position_cur, position_prev, stars, watchers, forks, open_issues, language)
VALUES ($1, $2, $3, NULL, $4, $5, $6, $7, $8)
ON CONFLICT (owner, repo) DO UPDATE SET
	position_cur = EXCLUDED.position_cur,
	stars = EXCLUDED.stars,
	watchers = EXCLUDED.watchers,
	forks = EXCLUDED.forks,
	open_issues = EXCLUDED.open_issues,
	language = EXCLUDED.language
`

// UpsertRankedRepository stores a repository entering the ranking for the
// first time. The conflict arm covers the case where a placeholder row for
// the same identity appeared between the diff and the write.
func (q *Queries) UpsertRankedRepository(ctx context.Context, arg UpsertRankedRepositoryParams) error {
	_, err := q.db.Exec(ctx, upsertRankedRepository,
		arg.Owner, arg.Repo, arg.PositionCur, arg.Stars, arg.Watchers, arg.Forks, arg.OpenIssues, arg.Language)
	return err
}

type UpdateRankedRepositoryParams struct {
	ID           int64
	PositionCur  int32
	PositionPrev pgtype.Int4
	Stars        int32
	Watchers     int32
	Forks        int32
	OpenIssues   int32
	Language     pgtype.Text
}

const updateRankedRepository = `
UPDATE repositories
SET position_cur = $2,
	position_prev = $3,
	stars = $4,
	watchers = $5,
	forks = $6,
	open_issues = $7,
	language = $8
WHERE id = $1
`

func (q *Queries) UpdateRankedRepository(ctx context.Context, arg UpdateRankedRepositoryParams) error {
	_, err := q.db.Exec(ctx, updateRankedRepository,
		arg.ID, arg.PositionCur, arg.PositionPrev, arg.Stars, arg.Watchers, arg.Forks, arg.OpenIssues, arg.Language)
	return err
}

const listRankedRepositories = `
SELECT id, owner, repo, position_cur, position_prev, stars, watchers, forks, open_issues, language
FROM repositories
WHERE position_cur IS NOT NULL AND stars IS NOT NULL
ORDER BY stars DESC
LIMIT $1
`

// ListRankedRepositories returns ranked rows by descending star count.
// A nil limit reads the full ranked set (LIMIT NULL is unbounded).
func (q *Queries) ListRankedRepositories(ctx context.Context, limit *int32) ([]Repository, error) {
	rows, err := q.db.Query(ctx, listRankedRepositories, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.ID, &r.Owner, &r.Repo, &r.PositionCur, &r.PositionPrev,
			&r.Stars, &r.Watchers, &r.Forks, &r.OpenIssues, &r.Language); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

const getLatestActivityDate = `
SELECT max(date)::date
FROM repository_activity
WHERE repository_id = $1
`

// GetLatestActivityDate returns the newest stored activity date, invalid
// when the repository has no activity yet.
func (q *Queries) GetLatestActivityDate(ctx context.Context, repositoryID int64) (pgtype.Date, error) {
	var d pgtype.Date
	err := q.db.QueryRow(ctx, getLatestActivityDate, repositoryID).Scan(&d)
	return d, err
}

type CreateActivityRecordsParams struct {
	RepositoryID int64
	Date         time.Time
	Commits      int32
	Authors      []string
}

const createActivityRecord = `
INSERT INTO repository_activity (repository_id, date, commits, authors)
VALUES ($1, $2, $3, $4)
ON CONFLICT (repository_id, date) DO NOTHING
`

// CreateActivityRecords batch-inserts daily records. The uniqueness guard on
// (repository_id, date) turns a concurrent duplicate sync into a no-op; the
// returned count is the number of rows actually inserted.
func (q *Queries) CreateActivityRecords(ctx context.Context, arg []CreateActivityRecordsParams) (int64, error) {
	batch := &pgx.Batch{}
	for _, a := range arg {
		batch.Queue(createActivityRecord, a.RepositoryID, a.Date, a.Commits, a.Authors)
	}

	br := q.db.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range arg {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

type ListActivityInRangeParams struct {
	RepositoryID int64
	Since        time.Time
	Until        time.Time
}

const listActivityInRange = `
SELECT id, repository_id, date, commits, authors
FROM repository_activity
WHERE repository_id = $1 AND date BETWEEN $2 AND $3
ORDER BY date
`

func (q *Queries) ListActivityInRange(ctx context.Context, arg ListActivityInRangeParams) ([]ActivityRecord, error) {
	rows, err := q.db.Query(ctx, listActivityInRange, arg.RepositoryID, arg.Since, arg.Until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		var r ActivityRecord
		if err := rows.Scan(&r.ID, &r.RepositoryID, &r.Date, &r.Commits, &r.Authors); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
