package docstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	content := Render("Semantic Search", "published", []string{"search", "embeddings"}, "Semantic search ranks by cosine similarity.")
	hash, err := store.Write("semantic-search-topic", "semantic-search", content, "session-1", "CREATE document")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	got, err := store.Read("semantic-search-topic", "semantic-search")
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestHistoryGrowsWithEachWrite(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write("topic", "doc", "v1 body", "session-1", "CREATE document")
	require.NoError(t, err)

	history1, err := store.History("topic", "doc")
	require.NoError(t, err)
	require.Len(t, history1, 1)

	_, err = store.Write("topic", "doc", "v2 body", "session-2", "UPDATE document")
	require.NoError(t, err)

	history2, err := store.History("topic", "doc")
	require.NoError(t, err)
	require.Len(t, history2, 2)

	// Most recent first.
	require.Equal(t, "UPDATE document", history2[0].Message)
	require.Equal(t, "CREATE document", history2[1].Message)
}

func TestWriteCommitMessageCarriesSessionTrailer(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write("topic", "doc", "body", "session-abc-123", "CREATE document")
	require.NoError(t, err)

	head, err := store.repo.Head()
	require.NoError(t, err)
	commit, err := store.repo.CommitObject(head.Hash())
	require.NoError(t, err)
	require.Contains(t, commit.Message, "Session: session-abc-123")
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "semantic-search", Slugify("Semantic Search"))
	require.Equal(t, "what-is-go", Slugify("What is Go?"))
	require.Equal(t, "untitled", Slugify("???"))
}

func TestRenderAndSplitFrontMatterRoundTrip(t *testing.T) {
	content := Render("Title", "draft", []string{"a", "b"}, "Body text here.")
	body := SplitFrontMatter(content)
	require.Equal(t, "Body text here.", body)
}

func TestDeleteRemovesFileAndCommits(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write("topic", "doc", "body", "session-1", "CREATE document")
	require.NoError(t, err)

	_, err = store.Delete("topic", "doc", "session-2", "delete document")
	require.NoError(t, err)

	_, err = store.Read("topic", "doc")
	require.Error(t, err)
}
