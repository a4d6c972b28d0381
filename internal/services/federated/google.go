// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package federated performs the OAuth authorization-code exchange with
// Google and turns the result into an identity.Profile.
package federated

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/services/identity"
	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// StateCookieName carries the signed OAuth state between the two legs.
	StateCookieName = "otpgate_oauth_state"
	stateTTL        = 10 * time.Minute

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

var errStateMismatch = errors.New("oauth state mismatch")

// Provider talks to Google's OAuth endpoints.
type Provider struct {
	oauth        *oauth2.Config
	userInfoURL  string
	client       *http.Client
	cookies      *securecookie.SecureCookie
	secureCookie bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoints points the provider at different OAuth endpoints.
func WithEndpoints(authURL, tokenURL, userInfoURL string) Option {
	return func(p *Provider) {
		p.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
		p.userInfoURL = userInfoURL
	}
}

// WithHTTPClient replaces the HTTP client used for token and profile requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// NewGoogleProvider creates a Provider from configuration. secureCookie
// marks the state cookie Secure and should be set when serving over TLS.
func NewGoogleProvider(cfg config.GoogleConfig, secureCookie bool, opts ...Option) (*Provider, error) {
	if !cfg.Enabled() {
		return nil, errors.New("google client id and secret are required")
	}

	hashKey, err := stateHashKey(cfg.StateHashKey)
	if err != nil {
		return nil, err
	}
	cookies := securecookie.New(hashKey, nil)
	cookies.MaxAge(int(stateTTL.Seconds()))

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL:  googleUserInfoURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		cookies:      cookies,
		secureCookie: secureCookie,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func stateHashKey(configured string) ([]byte, error) {
	if configured == "" {
		key := securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("generating oauth state key")
		}
		slog.Warn("google_state_key_generated", "hint", "set --google-state-hash-key to keep state valid across restarts")
		return key, nil
	}
	key, err := hex.DecodeString(configured)
	if err != nil {
		return nil, fmt.Errorf("decoding google state hash key: %w", err)
	}
	if len(key) < 32 {
		return nil, errors.New("google state hash key must be at least 32 bytes")
	}
	return key, nil
}

// AuthCodeURL starts a sign-in. The returned cookie must be set on the
// response; its value is checked again by VerifyState.
func (p *Provider) AuthCodeURL() (string, *http.Cookie, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generating oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	encoded, err := p.cookies.Encode(StateCookieName, state)
	if err != nil {
		return "", nil, fmt.Errorf("signing oauth state: %w", err)
	}

	cookie := &http.Cookie{
		Name:     StateCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   p.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}

	url := p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
	return url, cookie, nil
}

// ClearStateCookie returns a cookie that removes the state cookie.
func (p *Provider) ClearStateCookie() *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// VerifyState checks the state echoed by the client against the signed cookie.
func (p *Provider) VerifyState(cookieValue, state string) error {
	if cookieValue == "" || state == "" {
		return errors.Join(autherr.ErrFederatedExchangeFailed, errStateMismatch)
	}
	var expected string
	if err := p.cookies.Decode(StateCookieName, cookieValue, &expected); err != nil {
		return errors.Join(autherr.ErrFederatedExchangeFailed, err)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		return errors.Join(autherr.ErrFederatedExchangeFailed, errStateMismatch)
	}
	return nil
}

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange redeems an authorization code and fetches the signed-in profile.
// Every failure is reported as autherr.ErrFederatedExchangeFailed.
func (p *Provider) Exchange(ctx context.Context, code string) (identity.Profile, error) {
	if code == "" {
		return identity.Profile{}, autherr.ErrFederatedExchangeFailed
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		slog.Warn("federated_exchange_failed", "stage", "token", "error", err)
		return identity.Profile{}, errors.Join(autherr.ErrFederatedExchangeFailed, err)
	}

	info, err := p.fetchUserInfo(ctx, tok)
	if err != nil {
		slog.Warn("federated_exchange_failed", "stage", "userinfo", "error", err)
		return identity.Profile{}, errors.Join(autherr.ErrFederatedExchangeFailed, err)
	}

	if info.Sub == "" || info.Email == "" {
		return identity.Profile{}, errors.Join(autherr.ErrFederatedExchangeFailed, errors.New("profile lacks subject or email"))
	}
	if !info.EmailVerified {
		slog.Warn("federated_exchange_failed", "stage", "userinfo", "email", info.Email, "reason", "email_unverified")
		return identity.Profile{}, errors.Join(autherr.ErrFederatedExchangeFailed, errors.New("email not verified"))
	}

	return identity.Profile{
		FederatedID: info.Sub,
		Email:       info.Email,
		Name:        info.Name,
		PictureURL:  info.Picture,
	}, nil
}

func (p *Provider) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	return &info, nil
}
