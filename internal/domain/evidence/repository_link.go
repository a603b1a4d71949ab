package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHosts are the code hosts accepted for repository links.
var DefaultHosts = []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org"}

// RepositoryLinkPayload is the Data of repository_link evidence.
type RepositoryLinkPayload struct {
	URL string `json:"url"`
}

// RepositoryLink accepts an https link to a repository on an allowed host,
// optionally confirming that the link resolves.
type RepositoryLink struct {
	hosts  map[string]bool
	client *http.Client
	verify bool
}

// RepositoryLinkOption configures RepositoryLink.
type RepositoryLinkOption func(*RepositoryLink)

// WithReachability enables a HEAD request against the link using client.
func WithReachability(client *http.Client) RepositoryLinkOption {
	return func(v *RepositoryLink) {
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		v.client = client
		v.verify = true
	}
}

// NewRepositoryLink creates the verifier. An empty host list uses DefaultHosts.
func NewRepositoryLink(hosts []string, opts ...RepositoryLinkOption) *RepositoryLink {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	v := &RepositoryLink{hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		v.hosts[strings.ToLower(h)] = true
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements Verifier.
func (v *RepositoryLink) Verify(ctx context.Context, _ Subject, ev Evidence) (bool, error) {
	var payload RepositoryLinkPayload
	if err := ev.Decode(&payload); err != nil {
		return false, err
	}
	u, err := url.Parse(strings.TrimSpace(payload.URL))
	if err != nil {
		return false, fmt.Errorf("repository url: %v: %w", err, ErrMalformed)
	}
	if u.Scheme != "https" || !v.hosts[strings.ToLower(u.Hostname())] {
		return false, nil
	}
	// owner/repo at minimum
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) < 2 {
		return false, nil
	}
	if !v.verify {
		return true, nil
	}
	return v.reachable(ctx, u.String())
}

func (v *RepositoryLink) reachable(ctx context.Context, link string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("requesting %s: %w", link, err)
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
}
