package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ErrNoCredentials is returned by [NewGmailSource] when neither an access
// token nor an HTTP client is configured.
var ErrNoCredentials = errors.New("reconcile: no gmail credentials configured")

// Source yields emails by message id.
type Source interface {
	Fetch(ctx context.Context, id string) (Email, error)
}

// GmailConfig configures a [GmailSource].
type GmailConfig struct {
	// AccessToken is an OAuth2 bearer token with gmail.readonly scope.
	AccessToken string

	// BaseURL overrides the API endpoint, e.g. for a local fake.
	BaseURL string

	// HTTPClient, when set, is used as is and AccessToken is ignored.
	HTTPClient *http.Client

	// User is the mailbox to read. Defaults to "me".
	User string
}

// GmailSource reads messages through the Gmail REST API.
type GmailSource struct {
	svc  *gmail.Service
	user string
}

var _ Source = (*GmailSource)(nil)

// NewGmailSource creates a client for the configured mailbox.
func NewGmailSource(ctx context.Context, cfg GmailConfig) (*GmailSource, error) {
	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.AccessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		opts = append(opts, option.WithTokenSource(ts))
	default:
		return nil, ErrNoCredentials
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("reconcile: create gmail service: %w", err)
	}
	user := cfg.User
	if user == "" {
		user = "me"
	}
	return &GmailSource{svc: svc, user: user}, nil
}

// Fetch downloads a full message and extracts its fields.
func (g *GmailSource) Fetch(ctx context.Context, id string) (Email, error) {
	msg, err := g.svc.Users.Messages.Get(g.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return Email{}, fmt.Errorf("reconcile: get message %s: %w", id, err)
	}
	return ExtractEmail(msg), nil
}

// Search returns up to limit message ids matching a Gmail search query, newest
// first. A limit of zero or less means 50.
func (g *GmailSource) Search(ctx context.Context, query string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		ids   []string
		token string
	)
	for int64(len(ids)) < limit {
		call := g.svc.Users.Messages.List(g.user).Q(query).MaxResults(limit - int64(len(ids))).Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("reconcile: list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		token = resp.NextPageToken
		if token == "" || len(resp.Messages) == 0 {
			break
		}
	}
	if int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
