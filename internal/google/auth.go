package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"calsync/internal/models"
)

// refreshLeeway is how close to expiry a token may get before the vault
// refreshes it proactively.
const refreshLeeway = time.Minute

// TokenVault loads, refreshes and persists per-account OAuth tokens. Tokens
// live in one JSON file per account (token-<account>.json) under Dir.
//
// Refreshes for the same account are single-flighted: a second caller awaits
// the in-flight refresh instead of issuing a duplicate. The in-flight entry is
// removed once the refresh completes, on failure as well as on success.
type TokenVault struct {
	config *oauth2.Config
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*refreshCall
}

type refreshCall struct {
	done  chan struct{}
	token *oauth2.Token
	err   error
}

// NewTokenVault builds a vault from explicit OAuth client settings. No
// ambient environment lookups happen past this point.
func NewTokenVault(logger *slog.Logger, clientID, clientSecret, redirectURL, dir string) (*TokenVault, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google client id and secret are required: %w", models.ErrValidation)
	}
	if redirectURL == "" {
		redirectURL = "urn:ietf:wg:oauth:2.0:oob"
	}
	if dir == "" {
		dir = "."
	}
	return &TokenVault{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		},
		dir:      dir,
		logger:   logger,
		inflight: make(map[string]*refreshCall),
	}, nil
}

// AuthCodeURL returns the URL the user visits to authorize a new account.
func (v *TokenVault) AuthCodeURL(state string) string {
	return v.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and stores it under the
// given account name.
func (v *TokenVault) Exchange(ctx context.Context, accountID, authCode string) (*oauth2.Token, error) {
	token, err := v.config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange authorization code: %v: %w", err, models.ErrAuthentication)
	}
	if err := v.saveToken(accountID, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Token returns a valid token for the account, refreshing it when it is
// missing an expiry margin.
func (v *TokenVault) Token(ctx context.Context, accountID string) (*oauth2.Token, error) {
	token, err := v.loadToken(accountID)
	if err != nil {
		return nil, err
	}
	if token.Valid() && time.Until(token.Expiry) > refreshLeeway {
		return token, nil
	}
	return v.refresh(ctx, accountID, token)
}

// Client returns an HTTP client whose requests carry vault-managed tokens for
// the account.
func (v *TokenVault) Client(ctx context.Context, accountID string) (*http.Client, error) {
	// Fail fast on accounts that were never authorized.
	if _, err := v.loadToken(accountID); err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, &vaultTokenSource{vault: v, accountID: accountID, ctx: ctx}), nil
}

// Accounts lists account names with a stored token.
func (v *TokenVault) Accounts() ([]string, error) {
	files, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, err
	}
	var accounts []string
	for _, file := range files {
		name := file.Name()
		if strings.HasPrefix(name, "token-") && strings.HasSuffix(name, ".json") {
			accounts = append(accounts, strings.TrimSuffix(strings.TrimPrefix(name, "token-"), ".json"))
		}
	}
	return accounts, nil
}

func (v *TokenVault) refresh(ctx context.Context, accountID string, stale *oauth2.Token) (*oauth2.Token, error) {
	v.mu.Lock()
	if call, ok := v.inflight[accountID]; ok {
		v.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	v.inflight[accountID] = call
	v.mu.Unlock()

	call.token, call.err = v.doRefresh(ctx, accountID, stale)

	v.mu.Lock()
	delete(v.inflight, accountID)
	v.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (v *TokenVault) doRefresh(ctx context.Context, accountID string, stale *oauth2.Token) (*oauth2.Token, error) {
	v.logger.Debug("Refreshing OAuth token", "account", accountID)
	fresh, err := v.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("unable to refresh token for account %s: %v: %w", accountID, err, models.ErrAuthentication)
	}
	if err := v.saveToken(accountID, fresh); err != nil {
		v.logger.Warn("Refreshed token could not be persisted", "account", accountID, "error", err)
	}
	return fresh, nil
}

func (v *TokenVault) tokenPath(accountID string) string {
	return filepath.Join(v.dir, fmt.Sprintf("token-%s.json", accountID))
}

func (v *TokenVault) loadToken(accountID string) (*oauth2.Token, error) {
	f, err := os.Open(v.tokenPath(accountID))
	if err != nil {
		return nil, fmt.Errorf("no stored token for account %s, run the 'auth' command first: %w", accountID, models.ErrAuthentication)
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("corrupt token file for account %s: %v: %w", accountID, err, models.ErrAuthentication)
	}
	return token, nil
}

func (v *TokenVault) saveToken(accountID string, token *oauth2.Token) error {
	f, err := os.Create(v.tokenPath(accountID))
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// vaultTokenSource adapts the vault to oauth2.TokenSource so the HTTP client
// picks up refreshed tokens transparently.
type vaultTokenSource struct {
	vault     *TokenVault
	accountID string
	ctx       context.Context
}

func (s *vaultTokenSource) Token() (*oauth2.Token, error) {
	return s.vault.Token(s.ctx, s.accountID)
}
