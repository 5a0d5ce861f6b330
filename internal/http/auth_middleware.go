package httpx

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/splax/localvercel/intake/pkg/jwt"
)

var (
	errAuthNotConfigured = errors.New("no internal credential configured")
	errInvalidCredential = errors.New("invalid credential")
)

type authContextKey string

const contextKeyAuth authContextKey = "intake-auth-info"

// authInfo describes the caller behind a valid bearer credential.
type authInfo struct {
	Subject     string
	Method      string
	Fingerprint string
}

type contextSetter interface {
	SetContext(context.Context)
}

// Authenticator accepts the static internal token or an HS256 service JWT.
type Authenticator struct {
	token     string
	jwtSecret string
}

// NewAuthenticator constructs an Authenticator. Empty values disable that method.
func NewAuthenticator(token, jwtSecret string) *Authenticator {
	return &Authenticator{
		token:     strings.TrimSpace(token),
		jwtSecret: strings.TrimSpace(jwtSecret),
	}
}

// Configured reports whether any credential can be accepted.
func (a *Authenticator) Configured() bool {
	return a != nil && (a.token != "" || a.jwtSecret != "")
}

// Authenticate checks a bearer token.
func (a *Authenticator) Authenticate(token string) (authInfo, error) {
	if !a.Configured() {
		return authInfo{}, errAuthNotConfigured
	}
	if a.token != "" && len(token) == len(a.token) && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1 {
		return authInfo{Subject: "internal", Method: "token", Fingerprint: fingerprint(token)}, nil
	}
	if a.jwtSecret != "" {
		claims, err := jwt.Parse(token, a.jwtSecret)
		if err == nil {
			return authInfo{Subject: claims.Subject, Method: "jwt", Fingerprint: fingerprint(token)}, nil
		}
	}
	return authInfo{}, errInvalidCredential
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// credential extracts the bearer token. Websocket upgrades may pass it as the
// access_token query parameter since browsers cannot set headers there.
func credential(req *http.Request) (string, error) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err == nil {
		return token, nil
	}
	if websocket.IsWebSocketUpgrade(req) {
		if q := strings.TrimSpace(req.URL.Query().Get("access_token")); q != "" {
			return q, nil
		}
	}
	return "", err
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func withAuthInfo(w http.ResponseWriter, req *http.Request, info authInfo) *http.Request {
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	return req.WithContext(ctx)
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
