// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github-top-repos/internal/activity"
	"github-top-repos/internal/database"
	apperrors "github-top-repos/internal/errors"
	"github-top-repos/internal/model"
)

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) GetRepositoryByOwnerAndName(ctx context.Context, owner, repo string) (database.Repository, error) {
	args := m.Called(ctx, owner, repo)
	return args.Get(0).(database.Repository), args.Error(1)
}
func (m *MockQuerier) CreatePlaceholderRepository(ctx context.Context, owner, repo string) error {
	return m.Called(ctx, owner, repo).Error(0)
}
func (m *MockQuerier) UpsertRankedRepository(ctx context.Context, arg database.UpsertRankedRepositoryParams) error {
	return m.Called(ctx, arg).Error(0)
}
func (m *MockQuerier) UpdateRankedRepository(ctx context.Context, arg database.UpdateRankedRepositoryParams) error {
	return m.Called(ctx, arg).Error(0)
}
func (m *MockQuerier) ListRankedRepositories(ctx context.Context, limit *int32) ([]database.Repository, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]database.Repository), args.Error(1)
}
func (m *MockQuerier) GetLatestActivityDate(ctx context.Context, repositoryID int64) (pgtype.Date, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).(pgtype.Date), args.Error(1)
}
func (m *MockQuerier) CreateActivityRecords(ctx context.Context, arg []database.CreateActivityRecordsParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) ListActivityInRange(ctx context.Context, arg database.ListActivityInRangeParams) ([]database.ActivityRecord, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]database.ActivityRecord), args.Error(1)
}

// MockGitHub is a mock of the GitHubClient interface.
type MockGitHub struct {
	mock.Mock
}

func (m *MockGitHub) SearchTopRepositories(ctx context.Context) ([]model.RankedRepo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.RankedRepo), args.Error(1)
}
func (m *MockGitHub) ListActivity(ctx context.Context, owner, repo string, latest *time.Time) ([]activity.Event, error) {
	args := m.Called(ctx, owner, repo, latest)
	return args.Get(0).([]activity.Event), args.Error(1)
}

func newTestSyncer(db database.Querier, gh GitHubClient) *Syncer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewSyncer(db, gh, logger, time.Hour)
}

func int4(v int32) pgtype.Int4 {
	return pgtype.Int4{Int32: v, Valid: true}
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func TestSyncer_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new repositories ranked by stars", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		fetched := []model.RankedRepo{
			{Owner: "a", Name: "a/one", Stars: 50},
			{Owner: "b", Name: "b/two", Stars: 80},
			{Owner: "c", Name: "c/three", Stars: 30},
		}
		mockGH.On("SearchTopRepositories", ctx).Return(fetched, nil).Once()
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return([]database.Repository{}, nil).Once()

		expectPos := map[string]int32{"b/two": 1, "a/one": 2, "c/three": 3}
		for name, pos := range expectPos {
			name, pos := name, pos
			mockQ.On("UpsertRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpsertRankedRepositoryParams) bool {
				return arg.Repo == name && arg.PositionCur == pos
			})).Return(nil).Once()
		}

		changed, err := s.Refresh(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 3, changed)
		mockQ.AssertExpectations(t)
	})

	t.Run("updates a known repository and carries the previous position", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		stored := []database.Repository{{
			ID: 7, Owner: "o", Repo: "o/r",
			PositionCur: int4(2), Stars: int4(10),
			Watchers: int4(1), Forks: int4(1), OpenIssues: int4(1),
			Language: text("Go"),
		}}
		fetched := []model.RankedRepo{{
			Owner: "o", Name: "o/r", Stars: 12,
			Watchers: 1, Forks: 1, OpenIssues: 1,
			Language: strPtr("Go"),
		}}
		mockGH.On("SearchTopRepositories", ctx).Return(fetched, nil).Once()
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return(stored, nil).Once()
		mockQ.On("UpdateRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpdateRankedRepositoryParams) bool {
			return arg.ID == 7 &&
				arg.PositionCur == 1 &&
				arg.PositionPrev == int4(2) &&
				arg.Stars == 12
		})).Return(nil).Once()

		changed, err := s.Refresh(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 1, changed)
		mockQ.AssertExpectations(t)
		mockQ.AssertNotCalled(t, "UpsertRankedRepository")
	})

	t.Run("writes nothing when a repository is unchanged", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		stored := []database.Repository{{
			ID: 7, Owner: "o", Repo: "o/r",
			PositionCur: int4(1), Stars: int4(50),
			Watchers: int4(5), Forks: int4(3), OpenIssues: int4(2),
			Language: text("Go"),
		}}
		fetched := []model.RankedRepo{{
			Owner: "o", Name: "o/r", Stars: 50,
			Watchers: 5, Forks: 3, OpenIssues: 2,
			Language: strPtr("Go"),
		}}
		mockGH.On("SearchTopRepositories", ctx).Return(fetched, nil).Once()
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return(stored, nil).Once()

		changed, err := s.Refresh(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 0, changed)
		mockQ.AssertNotCalled(t, "UpsertRankedRepository")
		mockQ.AssertNotCalled(t, "UpdateRankedRepository")
	})

	t.Run("a cleared language counts as a change", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		stored := []database.Repository{{
			ID: 7, Owner: "o", Repo: "o/r",
			PositionCur: int4(1), Stars: int4(50),
			Watchers: int4(5), Forks: int4(3), OpenIssues: int4(2),
			Language: text("Go"),
		}}
		fetched := []model.RankedRepo{{
			Owner: "o", Name: "o/r", Stars: 50,
			Watchers: 5, Forks: 3, OpenIssues: 2,
			Language: nil,
		}}
		mockGH.On("SearchTopRepositories", ctx).Return(fetched, nil).Once()
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return(stored, nil).Once()
		mockQ.On("UpdateRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpdateRankedRepositoryParams) bool {
			return arg.ID == 7 && !arg.Language.Valid
		})).Return(nil).Once()

		changed, err := s.Refresh(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 1, changed)
		mockQ.AssertExpectations(t)
	})

	t.Run("a repository that fell out of the listing keeps its rank slot", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		stored := []database.Repository{{
			ID: 3, Owner: "old", Repo: "old/gone",
			PositionCur: int4(1), Stars: int4(90),
			Watchers: int4(0), Forks: int4(0), OpenIssues: int4(0),
		}}
		fetched := []model.RankedRepo{{Owner: "new", Name: "new/hot", Stars: 100}}
		mockGH.On("SearchTopRepositories", ctx).Return(fetched, nil).Once()
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return(stored, nil).Once()

		// new/hot takes position 1, old/gone slides to 2 but is still ranked
		mockQ.On("UpsertRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpsertRankedRepositoryParams) bool {
			return arg.Repo == "new/hot" && arg.PositionCur == 1
		})).Return(nil).Once()
		mockQ.On("UpdateRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpdateRankedRepositoryParams) bool {
			return arg.ID == 3 && arg.PositionCur == 2 && arg.PositionPrev == int4(1) && arg.Stars == 90
		})).Return(nil).Once()

		changed, err := s.Refresh(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 2, changed)
		mockQ.AssertExpectations(t)
	})

	t.Run("aborts the cycle before any write when rate limited", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		mockGH.On("SearchTopRepositories", ctx).Return([]model.RankedRepo(nil), apperrors.ErrRateLimited).Once()

		_, err := s.Refresh(ctx)

		assert.ErrorIs(t, err, apperrors.ErrRateLimited)
		mockQ.AssertNotCalled(t, "ListRankedRepositories")
		mockQ.AssertNotCalled(t, "UpsertRankedRepository")
		mockQ.AssertNotCalled(t, "UpdateRankedRepository")
	})

	t.Run("one failed write does not sink the rest of the cycle", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockGH := new(MockGitHub)
		s := newTestSyncer(mockQ, mockGH)

		fetched := []model.RankedRepo{
			{Owner: "a", Name: "a/one", Stars: 50},
			{Owner: "b", Name: "b/two", Stars: 80},
		}
		mockGH.On("SearchTopRepositories", ctx).Return(fetched, nil).Once()
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return([]database.Repository{}, nil).Once()
		mockQ.On("UpsertRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpsertRankedRepositoryParams) bool {
			return arg.Repo == "b/two"
		})).Return(errors.New("write failed")).Once()
		mockQ.On("UpsertRankedRepository", mock.Anything, mock.MatchedBy(func(arg database.UpsertRankedRepositoryParams) bool {
			return arg.Repo == "a/one"
		})).Return(nil).Once()

		changed, err := s.Refresh(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 1, changed)
		mockQ.AssertExpectations(t)
	})
}

func TestDedupeLastWins(t *testing.T) {
	repos := []model.RankedRepo{
		{Owner: "a", Name: "a/one", Stars: 10},
		{Owner: "b", Name: "b/two", Stars: 20},
		{Owner: "a", Name: "a/one", Stars: 15},
	}

	out := dedupeLastWins(repos)

	assert.Len(t, out, 2)
	assert.Equal(t, 15, out[0].Stars) // last occurrence won
	assert.Equal(t, "b/two", out[1].Name)
}

func TestSyncer_ResolveOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("returns an existing repository", func(t *testing.T) {
		mockQ := new(MockQuerier)
		s := newTestSyncer(mockQ, new(MockGitHub))

		existing := database.Repository{ID: 1, Owner: "o", Repo: "r"}
		mockQ.On("GetRepositoryByOwnerAndName", ctx, "o", "r").Return(existing, nil).Once()

		repo, existed, err := s.ResolveOrCreate(ctx, "o", "r")

		assert.NoError(t, err)
		assert.True(t, existed)
		assert.Equal(t, existing, repo)
		mockQ.AssertNotCalled(t, "CreatePlaceholderRepository")
	})

	t.Run("creates a placeholder for an unknown repository", func(t *testing.T) {
		mockQ := new(MockQuerier)
		s := newTestSyncer(mockQ, new(MockGitHub))

		created := database.Repository{ID: 2, Owner: "o", Repo: "r"}
		mockQ.On("GetRepositoryByOwnerAndName", ctx, "o", "r").Return(database.Repository{}, pgx.ErrNoRows).Once()
		mockQ.On("CreatePlaceholderRepository", ctx, "o", "r").Return(nil).Once()
		mockQ.On("GetRepositoryByOwnerAndName", ctx, "o", "r").Return(created, nil).Once()

		repo, existed, err := s.ResolveOrCreate(ctx, "o", "r")

		assert.NoError(t, err)
		assert.False(t, existed)
		assert.Equal(t, created, repo)
		mockQ.AssertExpectations(t)
	})

	t.Run("reports an unresolvable repository", func(t *testing.T) {
		mockQ := new(MockQuerier)
		s := newTestSyncer(mockQ, new(MockGitHub))

		mockQ.On("GetRepositoryByOwnerAndName", ctx, "o", "r").Return(database.Repository{}, pgx.ErrNoRows).Twice()
		mockQ.On("CreatePlaceholderRepository", ctx, "o", "r").Return(nil).Once()

		_, _, err := s.ResolveOrCreate(ctx, "o", "r")

		var noRepo *apperrors.ErrNoSuchRepository
		assert.ErrorAs(t, err, &noRepo)
	})

	t.Run("returns an error if database lookup fails unexpectedly", func(t *testing.T) {
		mockQ := new(MockQuerier)
		s := newTestSyncer(mockQ, new(MockGitHub))
		dbError := errors.New("unexpected database error")

		mockQ.On("GetRepositoryByOwnerAndName", ctx, "o", "r").Return(database.Repository{}, dbError).Once()

		_, _, err := s.ResolveOrCreate(ctx, "o", "r")

		assert.Error(t, err)
		assert.Equal(t, dbError, err)
		mockQ.AssertNotCalled(t, "CreatePlaceholderRepository")
	})
}

func TestSyncer_GetTop(t *testing.T) {
	ctx := context.Background()

	rows := []database.Repository{
		{ID: 1, Owner: "a", Repo: "a/one", PositionCur: int4(1), Stars: int4(90), Forks: int4(3)},
		{ID: 2, Owner: "b", Repo: "b/two", PositionCur: int4(2), Stars: int4(80), Forks: int4(9)},
		{ID: 3, Owner: "c", Repo: "c/three", PositionCur: int4(3), Stars: int4(70), Forks: int4(6)},
	}

	t.Run("defaults to stars descending", func(t *testing.T) {
		mockQ := new(MockQuerier)
		s := newTestSyncer(mockQ, new(MockGitHub))
		limit := int32(100)
		mockQ.On("ListRankedRepositories", ctx, &limit).Return(rows, nil).Once()

		repos, err := s.GetTop(ctx, model.SortStars, true, &limit)

		assert.NoError(t, err)
		assert.Equal(t, []string{"a/one", "b/two", "c/three"}, repoNames(repos))
	})

	t.Run("re-orders the star-ranked slice by the requested field", func(t *testing.T) {
		mockQ := new(MockQuerier)
		s := newTestSyncer(mockQ, new(MockGitHub))
		mockQ.On("ListRankedRepositories", ctx, (*int32)(nil)).Return(rows, nil).Once()

		repos, err := s.GetTop(ctx, model.SortForks, false, nil)

		assert.NoError(t, err)
		assert.Equal(t, []string{"a/one", "c/three", "b/two"}, repoNames(repos))
	})
}

func repoNames(repos []model.Repository) []string {
	names := make([]string, len(repos))
	for i, r := range repos {
		names[i] = r.Name
	}
	return names
}

func strPtr(s string) *string {
	return &s
}
