package dedupe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Summarizer regenerates a summary from the union of merged findings. An
// orchestrator wires this to its reasoning client; when nil or when it
// errors, callers fall back to the existing document's summary.
type Summarizer interface {
	Summarize(ctx context.Context, sections []string) (string, error)
}

// Existing is the document being merged into or updated, as seen by the
// merge policy.
type Existing struct {
	Body       string
	SourceURLs []string
	Summary    string
}

// New is the freshly produced candidate being merged in.
type New struct {
	Findings   string
	SourceURLs []string
}

// DedupeURLs returns the union of a and b, preserving a's order and
// appending any URL from b not already present.
func DedupeURLs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, u := range a {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, u := range b {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// splitSentences is a conservative sentence splitter: it breaks on
// terminal punctuation followed by whitespace. Good enough for findings
// text assembled from reasoning-client output, not meant as a general NLP
// tool.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(b.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func sentenceHash(s string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(s), " "))
	sum := blake2b.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum)
}

// DedupeFindings concatenates existingBody and newFindings, splits into
// sentences, and drops sentences that are a hash-duplicate of one already
// kept (spec §4.5 merge policy: "findings sections concatenated then
// de-duplicated by sentence hash").
func DedupeFindings(existingBody, newFindings string) string {
	seen := make(map[string]struct{})
	var kept []string
	for _, s := range splitSentences(existingBody) {
		h := sentenceHash(s)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		kept = append(kept, s)
	}
	for _, s := range splitSentences(newFindings) {
		h := sentenceHash(s)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}

// ApplyMerge builds the body for a MERGE decision: a new datestamped
// section is appended under the existing body, preserving the document
// identifier (spec §4.5: "append a new section ... under a datestamped
// heading").
func ApplyMerge(existing Existing, fresh New, now time.Time) (body string, urls []string) {
	heading := fmt.Sprintf("## Update — %s", now.Format("2006-01-02"))
	body = strings.TrimRight(existing.Body, "\n") + "\n\n" + heading + "\n\n" + fresh.Findings
	urls = DedupeURLs(existing.SourceURLs, fresh.SourceURLs)
	return body, urls
}

// ApplyUpdate builds the body and summary for an UPDATE decision: findings
// are merged and de-duplicated by sentence hash, and the summary is
// regenerated by summarizer from the merged body when available, else the
// existing summary is retained (spec §4.5 merge policy).
func ApplyUpdate(ctx context.Context, existing Existing, fresh New, summarizer Summarizer) (body, summary string, urls []string) {
	body = DedupeFindings(existing.Body, fresh.Findings)
	urls = DedupeURLs(existing.SourceURLs, fresh.SourceURLs)

	summary = existing.Summary
	if summarizer != nil {
		if regenerated, err := summarizer.Summarize(ctx, []string{body}); err == nil && regenerated != "" {
			summary = regenerated
		}
	}
	return body, summary, urls
}
