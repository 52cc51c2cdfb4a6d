package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAuthorityHost = "https://login.microsoftonline.com"
	defaultIMDSEndpoint  = "http://169.254.169.254/metadata/identity/oauth2/token"
)

// ClientSecretSource issues tokens with the OAuth2 client credentials grant.
type ClientSecretSource struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	HTTP          *http.Client
}

func (s ClientSecretSource) Token(ctx context.Context, scope string) (Token, error) {
	host := strings.TrimRight(firstNonEmpty(s.AuthorityHost, defaultAuthorityHost), "/")
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", host, url.PathEscape(s.TenantID))

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)
	form.Set("scope", scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doTokenRequest(httpClient(s.HTTP), req)
}

// ManagedIdentitySource issues tokens from the instance metadata service,
// optionally for a user-assigned identity.
type ManagedIdentitySource struct {
	ClientID string
	Endpoint string
	HTTP     *http.Client
}

func (s ManagedIdentitySource) Token(ctx context.Context, scope string) (Token, error) {
	q := url.Values{}
	q.Set("api-version", "2018-02-01")
	q.Set("resource", strings.TrimSuffix(scope, "/.default"))
	if s.ClientID != "" {
		q.Set("client_id", s.ClientID)
	}
	endpoint := firstNonEmpty(s.Endpoint, defaultIMDSEndpoint) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Metadata", "true")
	return doTokenRequest(httpClient(s.HTTP), req)
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
	ExpiresOn   json.RawMessage `json:"expires_on"`
	Error       string          `json:"error"`
	Description string          `json:"error_description"`
}

func doTokenRequest(client *http.Client, req *http.Request) (Token, error) {
	res, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK || tr.AccessToken == "" {
		msg := firstNonEmpty(tr.Description, tr.Error, http.StatusText(res.StatusCode))
		return Token{}, fmt.Errorf("token request rejected (status %d): %s", res.StatusCode, msg)
	}

	tok := Token{Value: tr.AccessToken}
	if secs, ok := parseSeconds(tr.ExpiresIn); ok {
		tok.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	} else if epoch, ok := parseSeconds(tr.ExpiresOn); ok {
		tok.ExpiresAt = time.Unix(epoch, 0)
	}
	return tok, nil
}

// parseSeconds accepts both JSON numbers and numeric strings; the metadata
// service returns the latter.
func parseSeconds(raw json.RawMessage) (int64, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
