package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const (
	// Scope requested for accounting data
	ScopeAccounting = "com.intuit.quickbooks.accounting"

	refreshExpiryExtra = "x_refresh_token_expires_in"
)

// Tokens is the result of a code exchange or refresh.
type Tokens struct {
	AccessToken           string
	RefreshToken          string
	ExpiresAt             time.Time
	RefreshTokenExpiresAt *time.Time
}

// OAuthClient talks to the Intuit OAuth 2.0 token endpoint.
type OAuthClient struct {
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

func NewOAuthClient(clientID, clientSecret, authURL, tokenURL, redirectURI string, httpClient *http.Client, logger *slog.Logger) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{ScopeAccounting},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "qbo_oauth")),
	}
}

// AuthCodeURL returns the consent page URL for the given state.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens. An empty redirectURI uses the configured one.
func (c *OAuthClient) Exchange(ctx context.Context, code, redirectURI string) (*Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := c.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", classifyTokenError(err))
	}
	return c.tokens(tok), nil
}

// Refresh obtains a new access token. QuickBooks rotates the refresh token on
// every call; the old one is kept only if none is returned.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", classifyTokenError(err))
	}

	result := c.tokens(tok)
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}

	c.logger.Debug("Token refreshed", slog.Time("expires_at", result.ExpiresAt))
	return result, nil
}

func (c *OAuthClient) tokens(tok *oauth2.Token) *Tokens {
	result := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = c.now().Add(time.Hour)
	}
	if secs := extraSeconds(tok.Extra(refreshExpiryExtra)); secs > 0 {
		at := c.now().Add(time.Duration(secs) * time.Second)
		result.RefreshTokenExpiresAt = &at
	}
	return result
}

// classifyTokenError maps an invalid_grant response onto ErrInvalidGrant.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
		}
		if re.Response != nil {
			return &APIError{
				StatusCode: re.Response.StatusCode,
				Detail:     tokenErrorDetail(re),
				class:      classifyStatus(re.Response.StatusCode),
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

func tokenErrorDetail(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		if re.ErrorDescription != "" {
			return re.ErrorCode + ": " + re.ErrorDescription
		}
		return re.ErrorCode
	}
	return faultDetail(re.Body)
}

func extraSeconds(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
