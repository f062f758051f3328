package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/aris-project/aris/internal/dedupe"
	"github.com/aris-project/aris/internal/docstore"
	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/model"
	"github.com/aris-project/aris/internal/research"
)

// applyGateDecision assembles the candidate document from the session's
// accumulated findings, classifies it through the deduplication gate, and
// applies the resulting CREATE/MERGE/UPDATE action against the document
// store and the git-backed document tree (spec §4.5).
func (o *Orchestrator) applyGateDecision(ctx context.Context, session model.Session, hops []model.Hop, runningSummary string) (model.Document, model.GateDecision, bool, error) {
	topic, err := o.topics.GetTopic(ctx, session.TopicID)
	if err != nil {
		return model.Document{}, "", false, fmt.Errorf("orchestrator: resolve topic for gate: %w", err)
	}

	title := candidateTitle(session.Query)
	sources := candidateSources(hops)
	findings := strings.TrimSpace(runningSummary)
	if findings == "" {
		findings = "No findings recorded."
	}

	execSummary, err := research.Summarize(ctx, o.reasoning, []string{findings})
	if err != nil || strings.TrimSpace(execSummary) == "" {
		execSummary = firstSentences(findings, 3)
	}

	candidateBody := docstore.RenderSections(execSummary, findings, sources)
	decision, err := o.gate.Decide(ctx, session.TopicID, dedupe.Candidate{Title: title, Body: candidateBody})
	if err != nil {
		return model.Document{}, "", false, fmt.Errorf("orchestrator: gate decide: %w", err)
	}

	var doc model.Document
	switch decision.Action {
	case model.GateCreate:
		doc, err = o.createDocument(ctx, session, topic, title, execSummary, findings, sources)
	case model.GateMerge:
		doc, err = o.mergeDocument(ctx, session, topic, *decision.NeighborID, findings, sources)
	case model.GateUpdate:
		doc, err = o.updateDocument(ctx, session, topic, *decision.NeighborID, findings, sources)
	default:
		err = fmt.Errorf("orchestrator: unknown gate decision %q: %w", decision.Action, errs.ErrInternal)
	}
	if err != nil {
		return model.Document{}, decision.Action, decision.Degraded, err
	}
	return doc, decision.Action, decision.Degraded, nil
}

// createDocument handles a CREATE gate decision: a brand new document, git
// committed and then inserted, in that order, so the vector index is only
// ever told about a document whose commit already landed.
func (o *Orchestrator) createDocument(ctx context.Context, session model.Session, topic model.Topic, title, execSummary, findings string, sources []string) (model.Document, error) {
	body := docstore.RenderSections(execSummary, findings, sources)
	doc := model.Document{
		ID:          uuid.New(),
		TopicID:     topic.ID,
		Title:       title,
		Body:        body,
		Status:      model.DocumentPublished,
		ContentHash: contentFingerprint(body),
		Tags:        []string{},
	}
	doc.Slug = fmt.Sprintf("%s-%s", docstore.Slugify(title), doc.ID.String()[:8])
	doc.Embedding = o.bestEffortEmbed(ctx, body)

	content := docstore.Render(doc.Title, string(doc.Status), doc.Tags, doc.Body)
	commit, err := o.docs.Write(topic.Slug, doc.Slug, content, session.ID.String(), fmt.Sprintf("CREATE: %s", doc.Title))
	if err != nil {
		return model.Document{}, fmt.Errorf("orchestrator: create document git write: %w: %w", errs.ErrGitOperationFailed, err)
	}
	doc.GitCommit = commit

	created, err := o.documents.CreateDocument(ctx, doc)
	if err != nil {
		if _, delErr := o.docs.Delete(topic.Slug, doc.Slug, session.ID.String(), "ROLLBACK: create failed"); delErr != nil {
			o.logger.Error("orchestrator: create rollback failed", "error", delErr, "document_slug", doc.Slug)
		}
		return model.Document{}, fmt.Errorf("orchestrator: create document row: %w", err)
	}
	return created, nil
}

// mergeDocument handles a MERGE gate decision: a new datestamped section is
// appended to the existing document, preserving its identifier.
func (o *Orchestrator) mergeDocument(ctx context.Context, session model.Session, topic model.Topic, neighborID uuid.UUID, findings string, sources []string) (model.Document, error) {
	existing, err := o.documents.GetDocument(ctx, neighborID)
	if err != nil {
		return model.Document{}, fmt.Errorf("orchestrator: merge: load neighbor %s: %w", neighborID, err)
	}

	freshSection := findings
	if len(sources) > 0 {
		freshSection += "\n\n**Sources:**\n" + renderSourceList(sources)
	}
	newBody, _ := dedupe.ApplyMerge(dedupe.Existing{Body: existing.Body}, dedupe.New{Findings: freshSection, SourceURLs: sources}, time.Now().UTC())

	updated := existing
	updated.Body = newBody
	updated.ContentHash = contentFingerprint(newBody)
	updated.Embedding = o.bestEffortEmbed(ctx, newBody)

	content := docstore.Render(updated.Title, string(updated.Status), updated.Tags, updated.Body)
	commit, err := o.docs.Write(topic.Slug, updated.Slug, content, session.ID.String(), fmt.Sprintf("MERGE: %s", updated.Title))
	if err != nil {
		return model.Document{}, fmt.Errorf("orchestrator: merge document git write: %w: %w", errs.ErrGitOperationFailed, err)
	}
	updated.GitCommit = commit

	saved, err := o.documents.UpdateDocument(ctx, updated)
	if err != nil {
		o.rollbackDocumentWrite(topic, existing, session.ID.String(), "merge")
		return model.Document{}, fmt.Errorf("orchestrator: merge document row: %w", err)
	}
	return saved, nil
}

// updateDocument handles an UPDATE gate decision: findings are merged and
// de-duplicated by sentence hash, source URLs are unioned, and the summary
// is regenerated (spec §4.5 merge policy).
func (o *Orchestrator) updateDocument(ctx context.Context, session model.Session, topic model.Topic, neighborID uuid.UUID, findings string, sources []string) (model.Document, error) {
	existing, err := o.documents.GetDocument(ctx, neighborID)
	if err != nil {
		return model.Document{}, fmt.Errorf("orchestrator: update: load neighbor %s: %w", neighborID, err)
	}

	existingSummary, existingFindings, existingSources := docstore.ParseSections(existing.Body)
	summarizer := research.Summarizer{Client: o.reasoning}
	mergedFindings, newSummary, mergedSources := dedupe.ApplyUpdate(ctx,
		dedupe.Existing{Body: existingFindings, SourceURLs: existingSources, Summary: existingSummary},
		dedupe.New{Findings: findings, SourceURLs: sources},
		summarizer)

	newBody := docstore.RenderSections(newSummary, mergedFindings, mergedSources)

	updated := existing
	updated.Body = newBody
	updated.ContentHash = contentFingerprint(newBody)
	updated.Embedding = o.bestEffortEmbed(ctx, newBody)

	content := docstore.Render(updated.Title, string(updated.Status), updated.Tags, updated.Body)
	commit, err := o.docs.Write(topic.Slug, updated.Slug, content, session.ID.String(), fmt.Sprintf("UPDATE: %s", updated.Title))
	if err != nil {
		return model.Document{}, fmt.Errorf("orchestrator: update document git write: %w: %w", errs.ErrGitOperationFailed, err)
	}
	updated.GitCommit = commit

	saved, err := o.documents.UpdateDocument(ctx, updated)
	if err != nil {
		o.rollbackDocumentWrite(topic, existing, session.ID.String(), "update")
		return model.Document{}, fmt.Errorf("orchestrator: update document row: %w", err)
	}
	return saved, nil
}

// rollbackDocumentWrite restores the pre-mutation content of an existing
// document's file when the database write that should have followed the
// git commit fails, keeping the git tree and Postgres from diverging.
func (o *Orchestrator) rollbackDocumentWrite(topic model.Topic, original model.Document, sessionID, op string) {
	content := docstore.Render(original.Title, string(original.Status), original.Tags, original.Body)
	if _, err := o.docs.Write(topic.Slug, original.Slug, content, sessionID, fmt.Sprintf("ROLLBACK: %s failed", op)); err != nil {
		o.logger.Error("orchestrator: rollback failed", "error", err, "document_id", original.ID, "op", op)
	}
}

func (o *Orchestrator) bestEffortEmbed(ctx context.Context, text string) []float32 {
	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return nil
	}
	return vec
}

// candidateTitle derives a document title from the session's query: the
// query itself, capitalized and trimmed of trailing punctuation.
func candidateTitle(query string) string {
	t := strings.TrimRight(strings.TrimSpace(query), "?.! ")
	if t == "" {
		return "Untitled research"
	}
	r := []rune(t)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// candidateSources collects the deduplicated, order-preserving source URLs
// cited by a session's accumulated evidence.
func candidateSources(hops []model.Hop) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, h := range hops {
		for _, e := range h.Evidence {
			if e.SourceURL == "" || seen[e.SourceURL] {
				continue
			}
			seen[e.SourceURL] = true
			urls = append(urls, e.SourceURL)
		}
	}
	return urls
}

func renderSourceList(urls []string) string {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString("- ")
		b.WriteString(u)
		b.WriteString("\n")
	}
	return b.String()
}

// firstSentences is the fallback executive summary when the reasoning
// client is unavailable to regenerate one: the first n sentences of text.
func firstSentences(text string, n int) string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	if len(parts) > n {
		parts = parts[:n]
	}
	out := strings.TrimSpace(strings.Join(parts, ". "))
	if out != "" && !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}

func contentFingerprint(body string) string {
	sum := blake2b.Sum256([]byte(body))
	return fmt.Sprintf("%x", sum)
}
