package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugTrim    = regexp.MustCompile(`^-+|-+$`)
)

// Slugify converts title into a filesystem- and URL-safe slug.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugTrim.ReplaceAllString(s, "")
	if s == "" {
		s = "untitled"
	}
	return s
}

// Render composes the markdown file content for a document: a minimal YAML
// front matter block (title, status, tags) followed by the body.
func Render(title, status string, tags []string, body string) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %q\n", title)
	fmt.Fprintf(&b, "status: %s\n", status)
	fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(tags, ", "))
	b.WriteString("---\n\n")
	b.WriteString(body)
	return b.String()
}

// SplitFrontMatter separates a rendered document's front matter from its
// body. Returns the body unchanged if no front matter block is present.
func SplitFrontMatter(content string) (body string) {
	const delim = "---\n"
	if !strings.HasPrefix(content, delim) {
		return content
	}
	rest := content[len(delim):]
	idx := strings.Index(rest, delim)
	if idx == -1 {
		return content
	}
	return strings.TrimPrefix(rest[idx+len(delim):], "\n")
}

const (
	summaryHeading  = "## Summary"
	findingsHeading = "## Findings"
	sourcesHeading  = "## Sources"
)

// RenderSections composes a Document's body as the three-section Markdown
// structure spec §3 requires: Summary, Findings, Sources.
func RenderSections(summary, findings string, sources []string) string {
	var b strings.Builder
	b.WriteString(summaryHeading + "\n\n")
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\n" + findingsHeading + "\n\n")
	b.WriteString(strings.TrimSpace(findings))
	b.WriteString("\n\n" + sourcesHeading + "\n\n")
	for _, u := range sources {
		fmt.Fprintf(&b, "- %s\n", u)
	}
	return b.String()
}

// ParseSections recovers the Summary, Findings, and Sources content from a
// body built by RenderSections. Used by the deduplication gate's UPDATE
// path so merging findings doesn't treat section headings as sentences.
func ParseSections(body string) (summary, findings string, sources []string) {
	summary = sectionBetween(body, summaryHeading, findingsHeading)
	findings = sectionBetween(body, findingsHeading, sourcesHeading)
	for _, line := range strings.Split(sectionBetween(body, sourcesHeading, ""), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			sources = append(sources, line)
		}
	}
	return summary, findings, sources
}

// sectionBetween returns the trimmed text after startMarker up to (not
// including) endMarker, or to the end of body when endMarker is empty or
// absent.
func sectionBetween(body, startMarker, endMarker string) string {
	idx := strings.Index(body, startMarker)
	if idx == -1 {
		return ""
	}
	start := idx + len(startMarker)
	end := len(body)
	if endMarker != "" {
		if j := strings.Index(body[start:], endMarker); j != -1 {
			end = start + j
		}
	}
	return strings.TrimSpace(body[start:end])
}
