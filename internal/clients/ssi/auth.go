package ssi

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
)

// TokenRefreshBuffer is how long before expiry a token is refreshed
// proactively.
const TokenRefreshBuffer = 60 * time.Second

// Credentials is the broker credential set. The private key signs the
// token request; the consumer secret feeds per-request HMACs.
type Credentials struct {
	ConsumerID     string
	ConsumerSecret string
	PrivateKey     *rsa.PrivateKey
}

type tokenState struct {
	accessToken string
	expiresAt   time.Time
}

// Authenticator issues and caches broker access tokens. Token
// issuance signs a canonical JSON payload with RSA-PKCS1v15-SHA256.
// Refresh is double-checked behind a mutex so concurrent callers
// trigger a single broker round trip.
type Authenticator struct {
	creds   Credentials
	http    *resty.Client
	authURL string
	log     zerolog.Logger

	mu    sync.Mutex
	state tokenState
}

// NewAuthenticator creates an authenticator against the given auth
// endpoint.
func NewAuthenticator(creds Credentials, http *resty.Client, authURL string, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		creds:   creds,
		http:    http,
		authURL: authURL,
		log:     log.With().Str("component", "ssi_auth").Logger(),
	}
}

// signedPayload builds the canonical token request: the JSON of
// {consumerID, consumerSecret, timestamp} with sorted keys and no
// whitespace, plus its base64 RSA signature.
func (a *Authenticator) signedPayload(now time.Time) (map[string]string, error) {
	fields := map[string]string{
		"consumerID":     a.creds.ConsumerID,
		"consumerSecret": a.creds.ConsumerSecret,
		"timestamp":      fmt.Sprintf("%d", now.Unix()),
	}

	// encoding/json marshals map keys in sorted order and emits no
	// whitespace, which is exactly the canonical form the broker
	// verifies against.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}

	digest := sha256.Sum256(canonical)
	sig, err := rsa.SignPKCS1v15(nil, a.creds.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	fields["signature"] = base64.StdEncoding.EncodeToString(sig)
	return fields, nil
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"` // seconds
	Message     string `json:"message"`
}

// Token returns a valid access token, refreshing when the cached one
// is within the refresh buffer of expiry.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.accessToken != "" && time.Until(a.state.expiresAt) > TokenRefreshBuffer {
		return a.state.accessToken, nil
	}

	// Double-checked under the same lock: whoever got here first has
	// already refreshed for everyone queued behind the mutex.
	payload, err := a.signedPayload(time.Now())
	if err != nil {
		return "", &domain.AuthError{Op: "token", Err: err}
	}

	var tok tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&tok).
		Post(a.authURL)
	if err != nil {
		return "", &domain.TransientError{Err: fmt.Errorf("token request: %w", err)}
	}
	if resp.IsError() {
		// Auth rejections are permanent; retrying with the same
		// credentials cannot succeed.
		return "", &domain.AuthError{Op: "token", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), tok.Message)}
	}
	if tok.AccessToken == "" {
		return "", &domain.AuthError{Op: "token", Err: fmt.Errorf("empty access token in response")}
	}

	a.state = tokenState{
		accessToken: tok.AccessToken,
		expiresAt:   time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	a.log.Info().Time("expires_at", a.state.expiresAt).Msg("Access token refreshed")
	return a.state.accessToken, nil
}

// Invalidate drops the cached token, forcing a refresh on next use.
// Called when the broker answers 401 mid-session.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = tokenState{}
}
