package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/storage/postgres"
)

// OAuthHandlers implements the commerce platform's standard install/callback
// flow (§6 `/api/auth/install`, `/api/auth/callback`). The flow's shape is
// dictated entirely by the platform, not by this module's own domain.
type OAuthHandlers struct {
	db         *postgres.Client
	httpClient *http.Client
}

// NewOAuthHandlers builds the OAuth handler set.
func NewOAuthHandlers(db *postgres.Client) *OAuthHandlers {
	return &OAuthHandlers{db: db, httpClient: &http.Client{}}
}

// Install handles GET /api/auth/install, redirecting the merchant's browser
// to the platform's authorization screen.
func (h *OAuthHandlers) Install(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		writeError(w, CodeInvalidShop, "missing shop parameter")
		return
	}

	redirectURI := os.Getenv("APP_URL") + "/api/auth/callback"
	authorizeURL := fmt.Sprintf(
		"https://%s/admin/oauth/authorize?client_id=%s&scope=%s&redirect_uri=%s",
		url.QueryEscape(shop),
		url.QueryEscape(os.Getenv("SHOPIFY_API_KEY")),
		url.QueryEscape(os.Getenv("SHOPIFY_SCOPES")),
		url.QueryEscape(redirectURI),
	)
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Callback handles GET /api/auth/callback, exchanging the authorization
// code for a permanent access token and persisting the store.
func (h *OAuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shop := q.Get("shop")
	code := q.Get("code")
	hmacParam := q.Get("hmac")
	if shop == "" || code == "" {
		writeError(w, CodeMissingParams, "missing shop or code parameter")
		return
	}
	if !verifyInstallHMAC(q, hmacParam) {
		writeError(w, CodeInvalidToken, "invalid install hmac")
		return
	}

	accessToken, err := h.exchangeToken(r.Context(), shop, code)
	if err != nil {
		writeError(w, CodeInternalError, "token exchange failed")
		return
	}

	existing, err := h.db.Stores().GetByShopDomain(r.Context(), shop)
	if err != nil && !errors.Is(err, domain.ErrStoreNotFound) {
		writeError(w, CodeInternalError, "failed to look up store")
		return
	}
	if existing != nil {
		if err := h.db.Stores().Reinstall(r.Context(), existing.ID, accessToken); err != nil {
			writeError(w, CodeInternalError, "failed to reinstall store")
			return
		}
	} else {
		store, err := domain.NewStore(uuid.NewString(), shop, accessToken, domain.NewStoreSettings(domain.DefaultMaxCards, domain.DefaultMinAmountCents))
		if err != nil {
			writeError(w, CodeInternalError, "failed to initialize store")
			return
		}
		if err := h.db.Stores().Create(r.Context(), store); err != nil {
			writeError(w, CodeInternalError, "failed to persist store")
			return
		}
	}

	http.Redirect(w, r, os.Getenv("APP_URL")+"/", http.StatusFound)
}

func (h *OAuthHandlers) exchangeToken(ctx context.Context, shop, code string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id":     os.Getenv("SHOPIFY_API_KEY"),
		"client_secret": os.Getenv("SHOPIFY_API_SECRET"),
		"code":          code,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("https://%s/admin/oauth/access_token", shop), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, respBody)
	}

	var tokenResp accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}
	return tokenResp.AccessToken, nil
}

// verifyInstallHMAC checks the platform's query-string hmac over every
// other param, sorted and joined per the standard install-callback contract.
func verifyInstallHMAC(q url.Values, hmacParam string) bool {
	if hmacParam == "" {
		return false
	}
	secret := os.Getenv("SHOPIFY_API_SECRET")

	keys := make([]string, 0, len(q))
	for k := range q {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	message := ""
	for i, k := range keys {
		if i > 0 {
			message += "&"
		}
		message += k + "=" + q.Get(k)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(hmacParam))
}

