// Package broker refreshes per-account upstream OAuth tokens and builds
// the proxied HTTP transport each posting attempt goes out on. Grounded
// on the OIDC Authorization Code flow's use of golang.org/x/oauth2
// (internal/auth/oidc_flow.go), retargeted from user login at an
// identity provider to machine-to-machine refresh against the upstream
// platform's token endpoint.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/duskpost/poster/internal/apperr"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
)

// userAgents is rotated across requests so consecutive posts from the
// same account don't present an identical client fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// RandomUserAgent returns a pseudo-randomly chosen User-Agent string.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Broker refreshes account credentials and builds the outbound
// transport each dispatch uses.
type Broker struct {
	Queries  *db.Queries
	TokenURL string
}

func New(q *db.Queries, tokenURL string) *Broker {
	return &Broker{Queries: q, TokenURL: tokenURL}
}

// Refresh exchanges a stored refresh token for a new access token when
// the account's current one is expired or about to expire, persisting
// the new pair. It is a no-op (and returns the account unchanged) when
// the existing token still has more than refreshSkew left.
func (b *Broker) Refresh(ctx context.Context, profile model.ApiProfile, acct model.Account, refreshSkew time.Duration) (model.Account, error) {
	if acct.TokenExpiry != nil && time.Until(*acct.TokenExpiry) > refreshSkew {
		return acct, nil
	}

	cfg := &oauth2.Config{
		ClientID:     profile.ClientID,
		ClientSecret: profile.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: b.TokenURL},
	}

	op := func() (*oauth2.Token, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken})
		tok, err := src.Token()
		if err != nil {
			return nil, fmt.Errorf("refreshing token for account %s: %w", acct.ID, err)
		}
		return tok, nil
	}

	tok, err := backoff.Retry(ctx, op, backoff.WithMaxTries(3))
	if err != nil {
		return model.Account{}, apperr.Wrap(apperr.KindTokenRefreshFailed, "refreshing upstream token", err)
	}

	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	expiry := tok.Expiry
	acct.TokenExpiry = &expiry

	if err := b.Queries.UpdateAccountTokens(ctx, db.UpdateAccountTokensParams{
		ID:           acct.ID,
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		TokenExpiry:  expiry,
	}); err != nil {
		return model.Account{}, fmt.Errorf("persisting refreshed tokens for %s: %w", acct.ID, err)
	}

	return acct, nil
}

// BuildTransport builds an *http.Client that egresses through the given
// proxy and presents a randomized User-Agent on every request via
// RoundTripper, or a bare client when proxy is the zero value.
func BuildTransport(proxy *model.Proxy, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{TLSClientConfig: &tls.Config{}}

	if proxy != nil {
		proxyURL, err := url.Parse(proxy.URL())
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProxyError, fmt.Sprintf("parsing proxy url for %s", proxy.ID), err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: &userAgentTransport{inner: transport},
		Timeout:   timeout,
	}, nil
}

type userAgentTransport struct {
	inner http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", RandomUserAgent())
	return t.inner.RoundTrip(req)
}
