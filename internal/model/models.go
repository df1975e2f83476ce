// internal/model/models.go
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used on the API surface and in
// GitHub activity timestamps (date part only).
const DateLayout = "2006-01-02"

// Repository represents a tracked GitHub repository with its ranking state.
// Ranking fields are pointers: a placeholder row created by an activity query
// carries nil metrics until a ranking cycle first includes it, and
// PositionPrev stays nil until the repository has been ranked twice.
type Repository struct {
	ID           int64   `json:"id"`
	Owner        string  `json:"owner"`
	Name         string  `json:"repo"`
	PositionCur  *int    `json:"position_cur"`
	PositionPrev *int    `json:"position_prev"`
	Stars        *int    `json:"stars"`
	Watchers     *int    `json:"watchers"`
	Forks        *int    `json:"forks"`
	OpenIssues   *int    `json:"open_issues"`
	Language     *string `json:"language"`
}

// RankedRepo is one entry of a freshly fetched top-N listing, before it has
// been reconciled against stored state.
type RankedRepo struct {
	Owner      string
	Name       string
	Stars      int
	Watchers   int
	Forks      int
	OpenIssues int
	Language   *string
}

// ActivityRecord is one day of commit activity for a repository.
type ActivityRecord struct {
	Date    time.Time
	Commits int
	Authors []string
}

// MarshalJSON renders Date as a calendar date rather than a full timestamp.
func (a ActivityRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date    string   `json:"date"`
		Commits int      `json:"commits"`
		Authors []string `json:"authors"`
	}{a.Date.Format(DateLayout), a.Commits, a.Authors})
}

// RepoSort names a repository field the top listing can be ordered by.
type RepoSort string

const (
	SortPositionCur  RepoSort = "position_cur"
	SortPositionPrev RepoSort = "position_prev"
	SortStars        RepoSort = "stars"
	SortWatchers     RepoSort = "watchers"
	SortForks        RepoSort = "forks"
	SortOpenIssues   RepoSort = "open_issues"
	SortLanguage     RepoSort = "language"
	SortRepo         RepoSort = "repo"
	SortOwner        RepoSort = "owner"
)

// ParseRepoSort validates a user-supplied sort field. An empty string selects
// the default ordering by stars.
func ParseRepoSort(s string) (RepoSort, error) {
	if s == "" {
		return SortStars, nil
	}
	switch rs := RepoSort(s); rs {
	case SortPositionCur, SortPositionPrev, SortStars, SortWatchers,
		SortForks, SortOpenIssues, SortLanguage, SortRepo, SortOwner:
		return rs, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}
