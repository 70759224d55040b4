package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuthClient performs the refresh_token grant against Google's token endpoint.
type OAuthClient struct {
	tokenURL string
	http     *http.Client
}

func NewOAuthClient(tokenURL string, hc *http.Client) *OAuthClient {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &OAuthClient{tokenURL: tokenURL, http: hc}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	TokenType   string `json:"token_type"`
}

// Refresh exchanges a refresh token for a new access token. expiresIn is zero
// when Google does not report a lifetime.
func (o *OAuthClient) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (string, time.Duration, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", 0, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", 0, fmt.Errorf("decode refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("refresh response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
