// Package auth builds the websocket handshake headers for the market data
// and trade servers from a bearer access token.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rickgao/tqsdk-go/internal/version"
)

// Credentials holds the access token sent on every handshake.
type Credentials struct {
	AccessToken string
}

// Claims are the token fields worth logging. The signature is not checked;
// the server does that.
type Claims struct {
	Subject string `json:"sub"`
	Expires int64  `json:"exp"`
	Grants  struct {
		Features []string `json:"features"`
		Accounts []string `json:"accounts"`
	} `json:"grants"`
}

// LoadCredentials takes a token, or a path to a file holding one when the
// value starts with '@'.
func LoadCredentials(token string) (*Credentials, error) {
	if path, ok := strings.CutPrefix(token, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return nil, fmt.Errorf("access token is required")
	}
	return &Credentials{AccessToken: token}, nil
}

// Headers returns the handshake headers with extra merged in. A nil
// receiver sends no Authorization.
func (c *Credentials) Headers(extra map[string]string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", "tqsdk-go "+version.Version)
	h.Set("Accept", "application/json")
	if c != nil && c.AccessToken != "" {
		h.Set("Authorization", "Bearer "+c.AccessToken)
	}
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

// Claims decodes the payload segment of a JWT access token.
func (c *Credentials) Claims() (Claims, error) {
	var claims Claims
	parts := strings.Split(c.AccessToken, ".")
	if len(parts) != 3 {
		return claims, fmt.Errorf("access token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return claims, fmt.Errorf("decode token payload: %w", err)
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return claims, fmt.Errorf("parse token payload: %w", err)
	}
	return claims, nil
}
