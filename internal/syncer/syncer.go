// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github-top-repos/internal/activity"
	"github-top-repos/internal/database"
	apperrors "github-top-repos/internal/errors"
	"github-top-repos/internal/model"
)

const (
	// Ranked writes touch disjoint rows; bound how many run in parallel.
	writeConcurrency = 5
)

// GitHubClient is the remote capability the engines consume.
type GitHubClient interface {
	SearchTopRepositories(ctx context.Context) ([]model.RankedRepo, error)
	ListActivity(ctx context.Context, owner, repo string, latest *time.Time) ([]activity.Event, error)
}

// Syncer reconciles the stored ranking against GitHub and keeps per-repository
// activity history current. One Syncer drives both the periodic ranking cycle
// and on-demand activity queries.
type Syncer struct {
	db       database.Querier
	gh       GitHubClient
	logger   *slog.Logger
	interval time.Duration

	now func() time.Time
}

// NewSyncer creates a Syncer. interval is the cadence of the ranking cycle.
func NewSyncer(db database.Querier, gh GitHubClient, logger *slog.Logger, interval time.Duration) *Syncer {
	return &Syncer{
		db:       db,
		gh:       gh,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs ranking cycles until the context is canceled: one immediately,
// then one per tick. Cycles run inline in this goroutine, so they never
// overlap.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting ranking syncer", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Ranking syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Syncer) runCycle(ctx context.Context) {
	changed, err := s.Refresh(ctx)
	switch {
	case errors.Is(err, apperrors.ErrRateLimited):
		s.logger.Warn("Ranking cycle aborted: rate limited, retrying next tick")
	case errors.Is(err, context.Canceled):
	case err != nil:
		s.logger.Error("Ranking cycle failed", "error", err)
	default:
		s.logger.Info("Ranking cycle finished", "changes", changed)
	}
}

type repoKey struct {
	owner string
	name  string
}

// Refresh fetches the current top listing, reconciles it against stored
// state, and writes the minimal set of inserts and updates. It returns the
// number of rows changed. A rate-limit signal aborts the whole cycle before
// any write.
func (s *Syncer) Refresh(ctx context.Context) (int, error) {
	fetched, err := s.gh.SearchTopRepositories(ctx)
	if err != nil {
		return 0, err
	}
	if len(fetched) == 0 {
		s.logger.Warn("Top listing fetch returned nothing, keeping stored ranking")
		return 0, nil
	}

	fetched = dedupeLastWins(fetched)

	stored, err := s.db.ListRankedRepositories(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("read stored ranking: %w", err)
	}

	storedByKey := make(map[repoKey]database.Repository, len(stored))
	for _, r := range stored {
		storedByKey[repoKey{r.Owner, r.Repo}] = r
	}

	// Union of stored and fetched entries, fresh metrics winning, so a
	// repository that fell out of this cycle's listing keeps a rank.
	union := make(map[repoKey]model.RankedRepo, len(stored)+len(fetched))
	for _, r := range stored {
		union[repoKey{r.Owner, r.Repo}] = model.RankedRepo{
			Owner:      r.Owner,
			Name:       r.Repo,
			Stars:      int(r.Stars.Int32),
			Watchers:   int(r.Watchers.Int32),
			Forks:      int(r.Forks.Int32),
			OpenIssues: int(r.OpenIssues.Int32),
			Language:   textToPtr(r.Language),
		}
	}
	for _, r := range fetched {
		union[repoKey{r.Owner, r.Name}] = r
	}

	ranked := make([]model.RankedRepo, 0, len(union))
	for _, r := range union {
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Stars > ranked[j].Stars })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(writeConcurrency)
	var changes atomic.Int64

	for i, r := range ranked {
		pos := int32(i + 1)
		r := r
		prev, known := storedByKey[repoKey{r.Owner, r.Name}]

		if !known {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				err := s.db.UpsertRankedRepository(gctx, database.UpsertRankedRepositoryParams{
					Owner:       r.Owner,
					Repo:        r.Name,
					PositionCur: pos,
					Stars:       int32(r.Stars),
					Watchers:    int32(r.Watchers),
					Forks:       int32(r.Forks),
					OpenIssues:  int32(r.OpenIssues),
					Language:    ptrToText(r.Language),
				})
				if err != nil {
					// One failed row must not sink the rest of the cycle.
					s.logger.Error("Failed to insert ranked repository",
						"owner", r.Owner, "repo", r.Name, "error", err)
					return nil
				}
				changes.Add(1)
				return nil
			})
			continue
		}

		if !rankedRepoChanged(prev, r, pos) {
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := s.db.UpdateRankedRepository(gctx, database.UpdateRankedRepositoryParams{
				ID:           prev.ID,
				PositionCur:  pos,
				PositionPrev: prev.PositionCur,
				Stars:        int32(r.Stars),
				Watchers:     int32(r.Watchers),
				Forks:        int32(r.Forks),
				OpenIssues:   int32(r.OpenIssues),
				Language:     ptrToText(r.Language),
			})
			if err != nil {
				s.logger.Error("Failed to update ranked repository",
					"owner", r.Owner, "repo", r.Name, "error", err)
				return nil
			}
			changes.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(changes.Load()), err
	}
	return int(changes.Load()), nil
}

// ResolveOrCreate finds the stored row for (owner, name), creating a
// placeholder with null metrics when the identity is new. existed reports
// whether the row was already known.
func (s *Syncer) ResolveOrCreate(ctx context.Context, owner, name string) (database.Repository, bool, error) {
	repo, err := s.db.GetRepositoryByOwnerAndName(ctx, owner, name)
	if err == nil {
		return repo, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.Repository{}, false, err
	}

	s.logger.Info("Creating placeholder repository", "owner", owner, "repo", name)
	if err := s.db.CreatePlaceholderRepository(ctx, owner, name); err != nil {
		return database.Repository{}, false, fmt.Errorf("create placeholder: %w", err)
	}

	repo, err = s.db.GetRepositoryByOwnerAndName(ctx, owner, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Repository{}, false, &apperrors.ErrNoSuchRepository{Owner: owner, Name: name}
		}
		return database.Repository{}, false, err
	}
	return repo, false, nil
}

// GetTop reads the star-ranked top slice and re-orders it by the requested
// field. Membership in the slice is always decided by stars; sortBy only
// changes presentation order within it. A nil limit reads everything.
func (s *Syncer) GetTop(ctx context.Context, sortBy model.RepoSort, desc bool, limit *int32) ([]model.Repository, error) {
	rows, err := s.db.ListRankedRepositories(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read top repositories: %w", err)
	}

	repos := make([]model.Repository, len(rows))
	for i, r := range rows {
		repos[i] = toModelRepository(r)
	}

	sort.SliceStable(repos, func(i, j int) bool {
		if desc {
			i, j = j, i
		}
		return repoLess(repos[i], repos[j], sortBy)
	})
	return repos, nil
}

// rankedRepoChanged compares every ranking field of a stored row against the
// incoming entry. A stored language going null-to-value, value-to-null, or
// value-to-other-value all count as changes.
func rankedRepoChanged(stored database.Repository, in model.RankedRepo, pos int32) bool {
	switch {
	case !stored.PositionCur.Valid || stored.PositionCur.Int32 != pos:
		return true
	case !stored.Stars.Valid || stored.Stars.Int32 != int32(in.Stars):
		return true
	case !stored.Watchers.Valid || stored.Watchers.Int32 != int32(in.Watchers):
		return true
	case !stored.Forks.Valid || stored.Forks.Int32 != int32(in.Forks):
		return true
	case !stored.OpenIssues.Valid || stored.OpenIssues.Int32 != int32(in.OpenIssues):
		return true
	case stored.Language.Valid != (in.Language != nil):
		return true
	case stored.Language.Valid && stored.Language.String != *in.Language:
		return true
	}
	return false
}

// dedupeLastWins removes duplicate (owner, name) entries, keeping the last
// occurrence; the remote listing can repeat an entry across pages.
func dedupeLastWins(repos []model.RankedRepo) []model.RankedRepo {
	idx := make(map[repoKey]int, len(repos))
	out := make([]model.RankedRepo, 0, len(repos))
	for _, r := range repos {
		key := repoKey{r.Owner, r.Name}
		if i, ok := idx[key]; ok {
			out[i] = r
			continue
		}
		idx[key] = len(out)
		out = append(out, r)
	}
	return out
}

func repoLess(a, b model.Repository, field model.RepoSort) bool {
	switch field {
	case model.SortOwner:
		return a.Owner < b.Owner
	case model.SortRepo:
		return a.Name < b.Name
	case model.SortLanguage:
		return strPtrLess(a.Language, b.Language)
	case model.SortPositionCur:
		return intPtrLess(a.PositionCur, b.PositionCur)
	case model.SortPositionPrev:
		return intPtrLess(a.PositionPrev, b.PositionPrev)
	case model.SortWatchers:
		return intPtrLess(a.Watchers, b.Watchers)
	case model.SortForks:
		return intPtrLess(a.Forks, b.Forks)
	case model.SortOpenIssues:
		return intPtrLess(a.OpenIssues, b.OpenIssues)
	default:
		return intPtrLess(a.Stars, b.Stars)
	}
}

// nil sorts before any value so unranked fields group together.
func intPtrLess(a, b *int) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return *a < *b
}

func strPtrLess(a, b *string) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return *a < *b
}

func toModelRepository(r database.Repository) model.Repository {
	return model.Repository{
		ID:           r.ID,
		Owner:        r.Owner,
		Name:         r.Repo,
		PositionCur:  int4ToPtr(r.PositionCur),
		PositionPrev: int4ToPtr(r.PositionPrev),
		Stars:        int4ToPtr(r.Stars),
		Watchers:     int4ToPtr(r.Watchers),
		Forks:        int4ToPtr(r.Forks),
		OpenIssues:   int4ToPtr(r.OpenIssues),
		Language:     textToPtr(r.Language),
	}
}

func int4ToPtr(v pgtype.Int4) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func textToPtr(v pgtype.Text) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func ptrToText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}
