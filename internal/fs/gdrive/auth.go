package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// authOption 根据配置选择认证方式:
// a service account / authorized-user JSON file when CredentialsFile is set,
// otherwise an OAuth2 refresh token for an installed app.
func authOption(ctx context.Context, opts *Options) (option.ClientOption, error) {
	if opts.CredentialsFile != "" {
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("gdrive: read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("gdrive: parse credentials: %w", err)
		}
		return option.WithTokenSource(creds.TokenSource), nil
	}

	if opts.RefreshToken == "" && opts.AccessToken == "" {
		return nil, fmt.Errorf("gdrive: no credentials configured")
	}

	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
	// A token without expiry is never refreshed, so a configured access
	// token is only used as is when there is no refresh token.
	tok := &oauth2.Token{RefreshToken: opts.RefreshToken}
	if opts.RefreshToken == "" {
		tok.AccessToken = opts.AccessToken
	}
	ts := &loggingTokenSource{base: conf.TokenSource(ctx, tok), last: tok.AccessToken}
	return option.WithTokenSource(ts), nil
}

// loggingTokenSource 在 token 被刷新时记录日志
type loggingTokenSource struct {
	base oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *loggingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("gdrive: refresh token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		slog.Info("Google Drive access token 已刷新", "expiry", tok.Expiry)
	}
	return tok, nil
}
