package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// inboxSource reads pre-fetched profile documents from a directory. An
// external fetcher (the actual network half of the pipeline) drops
// <username>.json and <username>.friends.json into the inbox; picture URLs
// are local file paths relative to the inbox.
type inboxSource struct {
	dir string
}

// inboxFriends is the friends document layout in the inbox.
type inboxFriends struct {
	Username  string    `json:"username"`
	FetchedAt time.Time `json:"fetched_at"`
	Followers []string  `json:"followers"`
	Following []string  `json:"following"`
	Complete  *bool     `json:"complete"`
}

func newInboxSource(dir string) *inboxSource {
	return &inboxSource{dir: dir}
}

func (s *inboxSource) FetchProfile(ctx context.Context, username string, authenticated bool) (*core.ProfileSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, username+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &core.FetchError{Username: username, Err: err}
		}
		return nil, &core.FetchError{Username: username, Err: err}
	}

	var snapshot core.ProfileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, &core.FetchError{Username: username, Err: err}
	}
	if snapshot.Username == "" {
		snapshot.Username = username
	}
	if snapshot.FetchedAt.IsZero() {
		snapshot.FetchedAt = time.Now().UTC()
	}
	if snapshot.Method == "" {
		if authenticated {
			snapshot.Method = core.FetchAuthenticated
		} else {
			snapshot.Method = core.FetchAnonymous
		}
	}
	return &snapshot, nil
}

func (s *inboxSource) FetchFriends(ctx context.Context, username string) (*core.FriendsSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, username+".friends.json"))
	if err != nil {
		return nil, &core.FetchError{Username: username, LoginRequired: errors.Is(err, os.ErrNotExist), Err: err}
	}

	var doc inboxFriends
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &core.FetchError{Username: username, Err: err}
	}
	if doc.Username == "" {
		doc.Username = username
	}
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now().UTC()
	}

	// A document without an explicit complete marker is trusted: the
	// external fetcher only writes files for fetches that finished.
	complete := true
	if doc.Complete != nil {
		complete = *doc.Complete
	}

	return &core.FriendsSnapshot{
		Username:  doc.Username,
		FetchedAt: doc.FetchedAt,
		Followers: core.NewFriendSet(core.RelationFollowers, doc.Followers),
		Following: core.NewFriendSet(core.RelationFollowing, doc.Following),
		Complete:  complete,
	}, nil
}

func (s *inboxSource) FetchImage(ctx context.Context, url string) ([]byte, error) {
	path := url
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.FetchError{Err: err}
	}
	return data, nil
}
