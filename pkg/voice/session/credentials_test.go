package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tablevox/vox-order/pkg/core"
)

func TestFetchCredential(t *testing.T) {
	expires := time.Now().Add(time.Minute).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req struct {
			RestaurantID string `json:"restaurant_id"`
			Mode         string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.RestaurantID != "rest_1" || req.Mode != "customer" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"secret":     "tok_abc",
			"expires_at": expires,
		})
	}))
	defer srv.Close()

	provider := NewHTTPCredentialProvider(srv.URL, nil)
	cred, err := provider.FetchCredential(context.Background(), "rest_1", ModeCustomer)
	if err != nil {
		t.Fatalf("FetchCredential: %v", err)
	}
	if cred.Secret != "tok_abc" {
		t.Fatalf("secret = %q", cred.Secret)
	}
	if cred.Expired(time.Now()) {
		t.Fatal("fresh credential reported expired")
	}
	if !cred.Expired(time.UnixMilli(expires).Add(time.Second)) {
		t.Fatal("credential past expiry reported valid")
	}
}

func TestFetchCredentialFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no", http.StatusUnauthorized)
			},
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
		{
			name: "missing secret",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"secret":"  "}`))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			provider := NewHTTPCredentialProvider(srv.URL, nil)
			_, err := provider.FetchCredential(context.Background(), "rest_1", ModeEmployee)
			var ce *core.Error
			if !errors.As(err, &ce) || ce.Type != core.ErrCredential {
				t.Fatalf("error = %v, want credential error", err)
			}
			if core.IsRetryable(err) {
				t.Fatal("credential failures are not retryable")
			}
		})
	}
}

func TestFetchCredentialUnreachable(t *testing.T) {
	provider := NewHTTPCredentialProvider("http://127.0.0.1:1/credentials", nil)
	_, err := provider.FetchCredential(context.Background(), "rest_1", ModeEmployee)
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrCredential {
		t.Fatalf("error = %v, want credential error", err)
	}
}

func TestCredentialNoExpiry(t *testing.T) {
	cred := Credential{Secret: "tok"}
	if cred.Expired(time.Now().Add(100 * time.Hour)) {
		t.Fatal("credential without expiry never expires")
	}
}
