// internal/syncer/activity.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github-top-repos/internal/activity"
	"github-top-repos/internal/database"
	apperrors "github-top-repos/internal/errors"
	"github-top-repos/internal/model"
)

// GetActivity returns per-day commit activity for a repository over
// [since, until], syncing missing days from GitHub first. Repositories never
// seen before get a placeholder row and a full backfill; known repositories
// only fetch days newer than the latest stored date. A rate limit surfaces as
// apperrors.ErrRateLimited; any other sync failure degrades to whatever is
// already stored.
func (s *Syncer) GetActivity(ctx context.Context, owner, repo string, since, until time.Time) ([]model.ActivityRecord, error) {
	empty, err := activity.ValidateRange(since, until, s.now())
	if err != nil {
		return nil, err
	}
	if empty {
		return []model.ActivityRecord{}, nil
	}
	since, until = activity.Day(since), activity.Day(until)

	row, existed, err := s.ResolveOrCreate(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var latest *time.Time
	if existed {
		d, err := s.db.GetLatestActivityDate(ctx, row.ID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read latest activity date: %w", err)
		}
		if err == nil && d.Valid {
			t := activity.Day(d.Time)
			latest = &t
		}
	}

	// A stored history already past the range end needs no remote call.
	if latest == nil || !latest.After(until) {
		if err := s.syncActivity(ctx, owner, row.Repo, row.ID, latest); err != nil {
			if errors.Is(err, apperrors.ErrRateLimited) {
				return nil, err
			}
			s.logger.Error("Activity sync failed, serving stored records",
				"owner", owner, "repo", repo, "error", err)
		}
	}

	stored, err := s.db.ListActivityInRange(ctx, database.ListActivityInRangeParams{
		RepositoryID: row.ID,
		Since:        since,
		Until:        until,
	})
	if err != nil {
		return nil, fmt.Errorf("read activity records: %w", err)
	}

	records := make([]model.ActivityRecord, len(stored))
	for i, r := range stored {
		records[i] = model.ActivityRecord{
			Date:    r.Date,
			Commits: int(r.Commits),
			Authors: r.Authors,
		}
	}
	return records, nil
}

// syncActivity pulls commit events newer than latest (all history when nil),
// folds them into per-day stats, and stores the days not already present.
// repo may carry an owner prefix; the remote endpoint wants the bare name.
func (s *Syncer) syncActivity(ctx context.Context, owner, repo string, repoID int64, latest *time.Time) error {
	short := repo
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		short = repo[i+1:]
	}

	events, err := s.gh.ListActivity(ctx, owner, short, latest)
	if err != nil {
		return err
	}

	days := activity.Aggregate(events)
	if len(days) == 0 {
		return nil
	}

	params := make([]database.CreateActivityRecordsParams, 0, len(days))
	for d, stat := range days {
		params = append(params, database.CreateActivityRecordsParams{
			RepositoryID: repoID,
			Date:         d,
			Commits:      int32(stat.Commits),
			Authors:      stat.Authors,
		})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Date.Before(params[j].Date) })

	inserted, err := s.db.CreateActivityRecords(ctx, params)
	if err != nil {
		return fmt.Errorf("store activity records: %w", err)
	}
	s.logger.Info("Stored activity records",
		"owner", owner, "repo", short, "days", len(params), "inserted", inserted)
	return nil
}
