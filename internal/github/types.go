// internal/github/types.go
package github

import "time"

// searchResponse is the envelope of /search/repositories.
type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	FullName string `json:"full_name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
	StargazersCount int     `json:"stargazers_count"`
	Watchers        int     `json:"watchers"`
	Forks           int     `json:"forks"`
	OpenIssues      int     `json:"open_issues"`
	Language        *string `json:"language"`
}

// activityItem is one element of /repos/{owner}/{repo}/activity, newest first.
type activityItem struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     struct {
		Login string `json:"login"`
	} `json:"actor"`
}
