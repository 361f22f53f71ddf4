package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"golang.org/x/oauth2"

	"github.com/KodeKenobi/nusuru-admin/internal/credentials"
)

// ErrExchange marks a token exchange that did not yield an access token.
var ErrExchange = errs.Class("auth exchange")

// GrantTypeJWTBearer is the OAuth2 grant used for service-account assertions.
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

const maxTokenResponse = 1 << 20

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchanger trades a signed assertion for a bearer token.
type Exchanger struct {
	tokenURL string
	client   *http.Client
	now      func() time.Time
}

// NewExchanger returns an Exchanger posting to tokenURL.
func NewExchanger(tokenURL string, timeout time.Duration) *Exchanger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Exchanger{
		tokenURL: tokenURL,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Exchange posts the assertion to the token endpoint. Any response without an
// access_token is an ErrExchange carrying an *oauth2.RetrieveError.
func (e *Exchanger) Exchange(ctx context.Context, assertion string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, ErrExchange.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ErrExchange.Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, ErrExchange.Wrap(fmt.Errorf("read token response: %w", err))
	}

	var tr tokenResponse
	if jsonErr := json.Unmarshal(body, &tr); jsonErr != nil || tr.AccessToken == "" {
		return nil, ErrExchange.Wrap(&oauth2.RetrieveError{
			Response:         resp,
			Body:             body,
			ErrorCode:        tr.Error,
			ErrorDescription: tr.ErrorDescription,
		})
	}

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = e.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}

// TokenSource yields a bearer token for one dispatch.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// AssertionTokenSource signs a fresh assertion and exchanges it on every call.
type AssertionTokenSource struct {
	store     *credentials.Store
	signer    *Signer
	exchanger *Exchanger
	now       func() time.Time
}

// NewAssertionTokenSource wires the signer and exchanger to the credential.
func NewAssertionTokenSource(store *credentials.Store, signer *Signer, exchanger *Exchanger) *AssertionTokenSource {
	return &AssertionTokenSource{
		store:     store,
		signer:    signer,
		exchanger: exchanger,
		now:       time.Now,
	}
}

// Token signs and exchanges. A signing failure returns before any request is
// sent.
func (s *AssertionTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := s.signer.Sign(s.store.Credential(), s.now())
	if err != nil {
		return nil, err
	}
	return s.exchanger.Exchange(ctx, assertion)
}
