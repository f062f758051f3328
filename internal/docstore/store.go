// Package docstore persists document bodies as git-versioned files on
// disk. Every write is a commit, so a document's full edit history is
// recoverable via git log rather than a bespoke revisions table. Grounded
// on akashi's internal/storage.CreateDecision same-transaction-write shape
// (data write + index-sync enqueue happen together or not at all): here the
// "transaction" is a single commit containing both the file write and the
// metadata carried in the commit message.
package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitAuthor identifies ARIS as the committer for every document write.
var CommitAuthor = object.Signature{
	Name:  "aris",
	Email: "aris@localhost",
}

// Revision is one commit touching a document's file.
type Revision struct {
	Hash      string
	Message   string
	Author    string
	Timestamp time.Time
}

// Store is a git-backed repository holding one file per document, under
// documents/<topic-slug>/<document-slug>.md.
type Store struct {
	root string
	repo *git.Repository

	// mu serializes all writes: go-git's in-memory worktree status cache
	// is not safe for concurrent Add/Commit from multiple goroutines, and
	// spec §9 resolves concurrent UPDATEs against the same topic to be
	// serialized in any case (see internal/dedupe.TopicLocks).
	mu sync.Mutex
}

// Open opens the git repository at root, initializing a new one if root is
// empty or doesn't yet contain a .git directory.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create root %q: %w", root, err)
	}

	repo, err := git.PlainOpen(root)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return nil, fmt.Errorf("docstore: open repo at %q: %w", root, err)
		}
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, fmt.Errorf("docstore: init repo at %q: %w", root, err)
		}
	}

	return &Store{root: root, repo: repo}, nil
}

// relPath returns the repo-relative path for a topic/document slug pair.
func relPath(topicSlug, docSlug string) string {
	return filepath.Join("documents", topicSlug, docSlug+".md")
}

// Write creates or overwrites the file for (topicSlug, docSlug) with
// content, commits it, and returns the new commit hash. message should
// describe the action (CREATE/MERGE/UPDATE); the caller's session ID is
// appended as a trailer so every revision is traceable to the session that
// produced it.
func (s *Store) Write(topicSlug, docSlug, content string, sessionID string, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel := relPath(topicSlug, docSlug)
	abs := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("docstore: create document dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("docstore: write document file: %w", err)
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("docstore: worktree: %w", err)
	}
	if _, err := wt.Add(rel); err != nil {
		return "", fmt.Errorf("docstore: git add %q: %w", rel, err)
	}

	fullMessage := fmt.Sprintf("%s\n\nSession: %s", message, sessionID)
	sig := CommitAuthor
	sig.When = time.Now().UTC()

	hash, err := wt.Commit(fullMessage, &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		return "", fmt.Errorf("docstore: commit %q: %w", rel, err)
	}
	return hash.String(), nil
}

// Read returns the current content of (topicSlug, docSlug).
func (s *Store) Read(topicSlug, docSlug string) (string, error) {
	abs := filepath.Join(s.root, relPath(topicSlug, docSlug))
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("docstore: read document file: %w", err)
	}
	return string(content), nil
}

// History returns the commit history for (topicSlug, docSlug), most recent
// first.
func (s *Store) History(topicSlug, docSlug string) ([]Revision, error) {
	rel := relPath(topicSlug, docSlug)

	head, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("docstore: head: %w", err)
	}

	commitIter, err := s.repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("docstore: log %q: %w", rel, err)
	}
	defer commitIter.Close()

	var revisions []Revision
	err = commitIter.ForEach(func(c *object.Commit) error {
		revisions = append(revisions, Revision{
			Hash:      c.Hash.String(),
			Message:   strings.SplitN(c.Message, "\n", 2)[0],
			Author:    c.Author.Name,
			Timestamp: c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: walk history for %q: %w", rel, err)
	}

	sort.SliceStable(revisions, func(i, j int) bool {
		return revisions[i].Timestamp.After(revisions[j].Timestamp)
	})
	return revisions, nil
}

// Delete removes the file for (topicSlug, docSlug) and commits the
// removal, used when a document is hard-deleted rather than superseded.
func (s *Store) Delete(topicSlug, docSlug, sessionID, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel := relPath(topicSlug, docSlug)
	abs := filepath.Join(s.root, rel)
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("docstore: stat document file: %w", err)
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("docstore: worktree: %w", err)
	}
	if _, err := wt.Remove(rel); err != nil {
		return "", fmt.Errorf("docstore: git rm %q: %w", rel, err)
	}

	fullMessage := fmt.Sprintf("%s\n\nSession: %s", message, sessionID)
	sig := CommitAuthor
	sig.When = time.Now().UTC()

	hash, err := wt.Commit(fullMessage, &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		return "", fmt.Errorf("docstore: commit delete %q: %w", rel, err)
	}
	return hash.String(), nil
}

// Supersede records, in a commit, that (topicSlug, docSlug) has been
// superseded by supersededBySlug. The file itself is left in place (its
// content is still readable history); only the commit trailer marks the
// transition, mirroring Write's "commit is the record of the state change"
// convention. Implements the `superseded` lifecycle status spec §9 flags
// as reachable for completeness.
func (s *Store) Supersede(topicSlug, docSlug, supersededBySlug, sessionID string) (string, error) {
	message := fmt.Sprintf("SUPERSEDE: superseded by %s", supersededBySlug)
	content, err := s.Read(topicSlug, docSlug)
	if err != nil {
		return "", err
	}
	return s.Write(topicSlug, docSlug, content, sessionID, message)
}

// HeadCommit returns the current HEAD commit hash, or plumbing.ZeroHash's
// string form if the repository has no commits yet.
func (s *Store) HeadCommit() string {
	head, err := s.repo.Head()
	if err != nil {
		return plumbing.ZeroHash.String()
	}
	return head.Hash().String()
}
