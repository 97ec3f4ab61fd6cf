package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tablevox/vox-order/pkg/core"
)

// Credential is a short-lived connection secret. Single-use: it authorizes
// exactly one negotiation attempt, and the provider never refreshes it.
// Expiry means requesting an entirely new session.
type Credential struct {
	Secret    string
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CredentialProvider fetches connection credentials from the external token
// endpoint. No retries here; retry policy belongs to the caller.
type CredentialProvider interface {
	FetchCredential(ctx context.Context, restaurantID string, mode Mode) (Credential, error)
}

// HTTPCredentialProvider implements CredentialProvider against the token
// endpoint's POST contract.
type HTTPCredentialProvider struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPCredentialProvider creates a provider for the given endpoint.
func NewHTTPCredentialProvider(endpoint string, client *http.Client) *HTTPCredentialProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCredentialProvider{Endpoint: endpoint, Client: client}
}

type credentialRequest struct {
	RestaurantID string `json:"restaurant_id"`
	Mode         string `json:"mode"`
}

type credentialResponse struct {
	Secret    string `json:"secret"`
	ExpiresAt int64  `json:"expires_at"` // epoch ms
}

// FetchCredential requests a fresh credential. Non-2xx responses and
// malformed payloads fail with a credential error.
func (p *HTTPCredentialProvider) FetchCredential(ctx context.Context, restaurantID string, mode Mode) (Credential, error) {
	body, err := json.Marshal(credentialRequest{RestaurantID: restaurantID, Mode: string(mode)})
	if err != nil {
		return Credential{}, core.NewCredentialError("encode credential request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, core.NewCredentialError("build credential request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Credential{}, core.NewCredentialError("credential endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, core.NewCredentialError(
			fmt.Sprintf("credential endpoint returned status %d", resp.StatusCode), nil)
	}

	var payload credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Credential{}, core.NewCredentialError("malformed credential payload", err)
	}
	if strings.TrimSpace(payload.Secret) == "" {
		return Credential{}, core.NewCredentialError("credential payload missing secret", nil)
	}

	cred := Credential{Secret: payload.Secret}
	if payload.ExpiresAt > 0 {
		cred.ExpiresAt = time.UnixMilli(payload.ExpiresAt)
	}
	return cred, nil
}
