package markdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/github-issue-graph/internal/api"
	"github.com/wesm/github-issue-graph/internal/cache"
	"github.com/wesm/github-issue-graph/internal/graph"
	"github.com/wesm/github-issue-graph/internal/models"
)

// fakeClient renders bodies from a fixed table and serves issues from memory
type fakeClient struct {
	rendered    map[string]string
	renderErr   error
	issues      map[string]*github.Issue
	renderCalls int
	issueCalls  []string
}

func (f *fakeClient) RenderMarkdown(_ context.Context, text, _ string) (string, error) {
	f.renderCalls++
	if f.renderErr != nil {
		return "", f.renderErr
	}
	return f.rendered[text], nil
}

func (f *fakeClient) GetIssue(_ context.Context, owner, name string, number int) (*github.Issue, error) {
	key := fmt.Sprintf("%s/%s#%d", owner, name, number)
	f.issueCalls = append(f.issueCalls, key)
	issue, ok := f.issues[key]
	if !ok {
		return nil, &api.RequestFailedError{
			Method:     "GET",
			URL:        "repos/" + owner + "/" + name + "/issues/" + fmt.Sprint(number),
			StatusCode: 404,
			Err:        errors.New("not found"),
		}
	}
	return issue, nil
}

func newTestResolver(t *testing.T, client Client) (*Resolver, *cache.Cache, *graph.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := graph.NewMemoryStore()
	c := cache.New(store, logger)
	return NewResolver(c, client, 0, logger), c, store
}

func TestExtractLinks(t *testing.T) {
	doc := `<p>Fixes <a href="https://github.com/u/r/issues/1" data-url="https://github.com/u/r/issues/1" class="issue-link js-issue-link">#1</a>
by <a href="https://github.com/octocat" class="user-mention">@octocat</a> in
<a href="https://github.com/u/r/commit/a00cd01" class="commit-link"><tt>a00cd01</tt></a>
and <a href="https://github.com/u/r/issues/2" class="issue-link">#2</a>
<a href="https://example.com">plain</a></p>`

	links, err := ExtractLinks(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, []Link{
		{Kind: IssueLink, URL: "https://github.com/u/r/issues/1"},
		{Kind: IssueLink, URL: "https://github.com/u/r/issues/2"},
		{Kind: CommitLink, URL: "https://github.com/u/r/commit/a00cd01"},
		{Kind: UserMention, URL: "https://github.com/octocat"},
	}, links)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Target
		wantErr bool
	}{
		{name: "User", url: "https://github.com/octocat", want: Target{User: "octocat"}},
		{name: "Issue", url: "https://github.com/u/r/issues/12", want: Target{User: "u", Repo: "r", ID: "12"}},
		{name: "Pull request", url: "https://github.com/u/r/pull/7", want: Target{User: "u", Repo: "r", ID: "7"}},
		{name: "Commit", url: "https://github.com/u/r/commit/a00cd01", want: Target{User: "u", Repo: "r", ID: "a00cd01"}},
		{name: "Fragment ignored", url: "https://github.com/u/r/issues/12#issuecomment-1", want: Target{User: "u", Repo: "r", ID: "12"}},
		{name: "Commit inside pull request", url: "https://github.com/u/r/pull/12/commits/a00cd018208b04caa08a32f970067cf8ec837eb8", want: Target{User: "u", Repo: "r", ID: "a00cd018208b04caa08a32f970067cf8ec837eb8"}},
		{name: "Commits marker without pull request", url: "https://github.com/u/r/commits/a00cd01", want: Target{User: "u", Repo: "r", ID: "a00cd01"}},
		{name: "Two segments", url: "https://github.com/u/r", wantErr: true},
		{name: "Too many segments", url: "https://github.com/u/r/blob/main/README.md", wantErr: true},
		{name: "Empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty body makes no request", func(t *testing.T) {
		client := &fakeClient{}
		resolver, _, _ := newTestResolver(t, client)

		issue := &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "  \n"}
		resolver.Resolve(ctx, "u", "r", issue)

		assert.Equal(t, 0, client.renderCalls)
		assert.Equal(t, 0, issue.References.Len())
	})

	t.Run("Known issue is reused and unknown issue fetched one hop", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"see #2 and other/repo#9": `<a class="issue-link" data-url="https://github.com/u/r/issues/2">#2</a>` +
					`<a class="issue-link" data-url="https://github.com/other/repo/issues/9">other/repo#9</a>`,
			},
			issues: map[string]*github.Issue{
				"other/repo#9": {
					Number: github.Int(9),
					Title:  github.String("Upstream bug"),
					Body:   github.String("see #100"),
					PullRequestLinks: &github.PullRequestLinks{
						URL: github.String("https://api.github.com/repos/other/repo/pulls/9"),
					},
				},
			},
		}
		resolver, c, store := newTestResolver(t, client)

		known, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 2})
		require.NoError(t, err)
		issue, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "see #2 and other/repo#9"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", issue)

		require.Len(t, issue.References.Issues, 2)
		assert.Same(t, known, issue.References.Issues[0])
		assert.Equal(t, []string{"other/repo#9"}, client.issueCalls)

		fetched, ok := c.Issue(cache.IssueKey{RepoUser: "other", RepoName: "repo", Number: 9})
		require.True(t, ok)
		assert.Same(t, fetched, issue.References.Issues[1])
		assert.True(t, fetched.IsPullRequest())
		assert.Equal(t, 0, fetched.References.Len(), "Expected fetched issues not to be scanned")
		assert.Equal(t, 1, client.renderCalls)

		node, _ := store.Node(fetched.Node)
		assert.Contains(t, node.Kinds, graph.KindPullRequest)
		assert.Equal(t, "Upstream bug", node.Properties["title"])

		assert.ElementsMatch(t, []any{known.Node, fetched.Node}, toAny(store.Outgoing(issue.Node, graph.RelReferences)))
	})

	t.Run("Commits and users", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"body": `<a class="commit-link" href="https://github.com/u/r/commit/a00cd018208b04caa08a32f970067cf8ec837eb8">a00cd01</a>` +
					`<a class="user-mention" href="https://github.com/octocat">@octocat</a>`,
			},
		}
		resolver, c, _ := newTestResolver(t, client)

		short, err := c.FindOrCreateCommit(ctx, "u", "r", "a00cd01")
		require.NoError(t, err)
		comment, err := c.FindOrCreateComment(ctx, &models.Comment{RepoUser: "u", RepoName: "r", ID: 5, Body: "body"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", comment)

		require.Len(t, comment.References.Commits, 1)
		assert.Same(t, short, comment.References.Commits[0])
		require.Len(t, comment.References.Users, 1)
		assert.Equal(t, "octocat", comment.References.Users[0].Login)
	})

	t.Run("Commit viewed inside a pull request", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"body": `<a class="commit-link" href="https://github.com/u/r/pull/12/commits/b11ee02f3a9e1c7d0b2a4c6e8f0a1b3c5d7e9f1a">b11ee02</a>` +
					`<a class="user-mention" href="https://github.com/octocat">@octocat</a>`,
			},
		}
		resolver, c, _ := newTestResolver(t, client)

		issue, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "body"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", issue)

		require.Len(t, issue.References.Commits, 1)
		assert.Equal(t, "b11ee02f3a9e1c7d0b2a4c6e8f0a1b3c5d7e9f1a", issue.References.Commits[0].SHA)
		assert.Len(t, issue.References.Users, 1, "Expected later anchors to resolve too")
	})

	t.Run("Missing issue is logged as not found", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"body": `<a class="issue-link" data-url="https://github.com/gone/repo/issues/3">gone/repo#3</a>`,
			},
		}
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		c := cache.New(graph.NewMemoryStore(), logger)
		resolver := NewResolver(c, client, 0, logger)

		issue, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "body"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", issue)

		assert.Equal(t, 0, issue.References.Len())
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "missing issue")
		assert.NotContains(t, buf.String(), "level=WARN")
	})

	t.Run("Repeated link is recorded once", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"@octocat @octocat": `<a class="user-mention" href="https://github.com/octocat">@octocat</a>` +
					`<a class="user-mention" href="https://github.com/octocat">@octocat</a>`,
			},
		}
		resolver, c, store := newTestResolver(t, client)

		issue, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "@octocat @octocat"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", issue)

		assert.Len(t, issue.References.Users, 1)
		assert.Equal(t, 1, store.EdgeCount(graph.RelReferences))
	})

	t.Run("Conversion failure leaves no references", func(t *testing.T) {
		client := &fakeClient{renderErr: errors.New("service unavailable")}
		resolver, c, _ := newTestResolver(t, client)

		comment, err := c.FindOrCreateComment(ctx, &models.Comment{RepoUser: "u", RepoName: "r", ID: 5, Body: "see #2"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", comment)

		assert.Equal(t, 0, comment.References.Len())
		assert.Equal(t, "see #2", comment.Body)
	})

	t.Run("Failure keeps earlier references", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"body": `<a class="issue-link" data-url="https://github.com/u/r/issues/2">#2</a>` +
					`<a class="issue-link" data-url="https://github.com/u/r/issues/404">#404</a>` +
					`<a class="user-mention" href="https://github.com/octocat">@octocat</a>`,
			},
		}
		resolver, c, _ := newTestResolver(t, client)

		_, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 2})
		require.NoError(t, err)
		issue, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "body"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", issue)

		assert.Len(t, issue.References.Issues, 1)
		assert.Empty(t, issue.References.Users, "Expected resolution to stop at the first failure")
	})

	t.Run("Malformed link stops resolution", func(t *testing.T) {
		client := &fakeClient{
			rendered: map[string]string{
				"body": `<a class="commit-link" href="https://github.com/u/r">broken</a>`,
			},
		}
		resolver, c, _ := newTestResolver(t, client)

		issue, err := c.FindOrCreateIssue(ctx, &models.Issue{RepoUser: "u", RepoName: "r", Number: 1, Body: "body"})
		require.NoError(t, err)

		resolver.Resolve(ctx, "u", "r", issue)
		assert.Equal(t, 0, issue.References.Len())
	})
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
