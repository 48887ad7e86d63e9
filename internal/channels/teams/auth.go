package teams

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuth marks a request with bad or missing credentials. Mapped to 401 so
// the provider does not retry.
var ErrAuth = errors.New("authentication failed")

// Issuers the Bot Framework connector service signs tokens under.
var botFrameworkIssuers = []string{
	"https://api.botframework.com",
	"https://login.microsoftonline.com/",
	"https://sts.windows.net/",
}

// authenticator validates inbound webhook credentials: the Authorization
// bearer token's claims (audience, issuer, lifetime) and an optional shared
// webhook secret. Signature verification against the Bot Framework OpenID
// metadata keys happens at the TLS-terminating front proxy.
type authenticator struct {
	appID  string
	secret string
	parser *jwt.Parser
}

func newAuthenticator(appID, secret string) *authenticator {
	return &authenticator{
		appID:  appID,
		secret: secret,
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
}

// Authenticate checks the request's bearer token and shared secret.
func (a *authenticator) Authenticate(r *http.Request) error {
	if a.secret != "" {
		got := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.secret)) != 1 {
			return fmt.Errorf("%w: bad webhook secret", ErrAuth)
		}
	}

	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return fmt.Errorf("%w: missing bearer token", ErrAuth)
	}
	return a.validateToken(raw)
}

func (a *authenticator) validateToken(raw string) error {
	claims := jwt.MapClaims{}
	if _, _, err := a.parser.ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("%w: parse token: %v", ErrAuth, err)
	}

	aud, err := claims.GetAudience()
	if err != nil || !containsAudience(aud, a.appID) {
		return fmt.Errorf("%w: audience mismatch", ErrAuth)
	}

	iss, err := claims.GetIssuer()
	if err != nil || !validIssuer(iss) {
		return fmt.Errorf("%w: untrusted issuer %q", ErrAuth, iss)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing expiry", ErrAuth)
	}
	if time.Now().After(exp.Time) {
		return fmt.Errorf("%w: token expired", ErrAuth)
	}
	return nil
}

func containsAudience(aud jwt.ClaimStrings, appID string) bool {
	for _, a := range aud {
		if a == appID {
			return true
		}
	}
	return false
}

func validIssuer(iss string) bool {
	for _, allowed := range botFrameworkIssuers {
		if iss == allowed || (strings.HasSuffix(allowed, "/") && strings.HasPrefix(iss, allowed)) {
			return true
		}
	}
	return false
}
