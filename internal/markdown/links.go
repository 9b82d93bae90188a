// Package markdown finds the issues, commits and users a GitHub markdown body
// points at. The body is rendered to HTML by GitHub, which already knows how
// to turn "#12", "owner/repo@sha" and "@login" into annotated anchors.
package markdown

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// LinkKind is the flavour of an annotated anchor in rendered markdown
type LinkKind int

const (
	IssueLink LinkKind = iota
	CommitLink
	UserMention
)

var linkClasses = map[string]LinkKind{
	"issue-link":   IssueLink,
	"commit-link":  CommitLink,
	"user-mention": UserMention,
}

func (k LinkKind) String() string {
	switch k {
	case IssueLink:
		return "issue-link"
	case CommitLink:
		return "commit-link"
	case UserMention:
		return "user-mention"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// Link is one annotated anchor found in rendered markdown
type Link struct {
	Kind LinkKind
	URL  string
}

// Target is what a link URL points at. Repo and ID are empty for users; ID is
// an issue number or a commit sha otherwise.
type Target struct {
	User string
	Repo string
	ID   string
}

// ExtractLinks returns the annotated anchors of a rendered document, issue
// links first, then commit links, then user mentions, each in document order.
func ExtractLinks(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered markdown: %w", err)
	}

	byKind := make(map[LinkKind][]Link)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if link, ok := anchorLink(n); ok {
				byKind[link.Kind] = append(byKind[link.Kind], link)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	var links []Link
	for _, kind := range []LinkKind{IssueLink, CommitLink, UserMention} {
		links = append(links, byKind[kind]...)
	}
	return links, nil
}

func anchorLink(n *html.Node) (Link, bool) {
	var class, href, dataURL string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "class":
			class = attr.Val
		case "href":
			href = attr.Val
		case "data-url":
			dataURL = attr.Val
		}
	}

	for _, c := range strings.Fields(class) {
		kind, ok := linkClasses[c]
		if !ok {
			continue
		}
		u := href
		if kind == IssueLink && dataURL != "" {
			u = dataURL
		}
		return Link{Kind: kind, URL: u}, true
	}
	return Link{}, false
}

// ParseTarget cleans a link URL down to the entity it names. Scheme, host,
// query and fragment are ignored, as are the "issues", "pull" and "commit"
// path markers. A "commits" marker, as in a commit viewed inside a pull
// request, keeps only the repository before it. One remaining segment is a
// user login, three are (user, repo, number or sha).
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("failed to parse link %q: %w", rawURL, err)
	}

	var tokens []string
	for _, segment := range strings.Split(u.Path, "/") {
		switch segment {
		case "", "issues", "pull", "commit":
			continue
		case "commits":
			if len(tokens) > 2 {
				tokens = tokens[:2]
			}
			continue
		}
		tokens = append(tokens, segment)
	}

	switch len(tokens) {
	case 1:
		return Target{User: tokens[0]}, nil
	case 3:
		return Target{User: tokens[0], Repo: tokens[1], ID: tokens[2]}, nil
	default:
		return Target{}, fmt.Errorf("unexpected link shape %q", rawURL)
	}
}

// IsUser reports whether the target names a user rather than a repository item
func (t Target) IsUser() bool {
	return t.Repo == ""
}
