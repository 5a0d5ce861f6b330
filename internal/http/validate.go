package httpx

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// RequestError is a request rejected before any processing.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Validator checks request shape and credentials.
type Validator struct {
	auth    *Authenticator
	maxBody int64
	logger  *slog.Logger
}

// NewValidator constructs a Validator.
func NewValidator(auth *Authenticator, maxBody int64, logger *slog.Logger) *Validator {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Validator{auth: auth, maxBody: maxBody, logger: logger}
}

// Validate returns nil when req may proceed. Requests with a body must be
// JSON, non-empty and within the size limit. Bodies without a declared length
// are bounded again when read.
func (v *Validator) Validate(req *http.Request, authRequired bool) *RequestError {
	if req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch {
		mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			return &RequestError{Status: http.StatusUnsupportedMediaType, Message: "content type must be application/json"}
		}
		if req.ContentLength == 0 || req.Body == nil || req.Body == http.NoBody {
			return &RequestError{Status: http.StatusBadRequest, Message: "request body is empty"}
		}
		if req.ContentLength > v.maxBody {
			return &RequestError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
		}
	}
	if authRequired {
		if _, rerr := v.authenticate(req); rerr != nil {
			return rerr
		}
	}
	return nil
}

// Identify returns the caller when req carries a valid credential, whether
// or not the route requires one.
func (v *Validator) Identify(req *http.Request) (authInfo, bool) {
	if !v.auth.Configured() {
		return authInfo{}, false
	}
	token, err := credential(req)
	if err != nil {
		return authInfo{}, false
	}
	info, err := v.auth.Authenticate(token)
	if err != nil {
		return authInfo{}, false
	}
	return info, true
}

func (v *Validator) authenticate(req *http.Request) (authInfo, *RequestError) {
	if !v.auth.Configured() {
		v.logger.Error("authentication required but no internal credential configured", "path", req.URL.Path)
		return authInfo{}, &RequestError{Status: http.StatusUnauthorized, Message: "authentication required"}
	}
	token, err := credential(req)
	if err != nil {
		v.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		return authInfo{}, &RequestError{Status: http.StatusUnauthorized, Message: "authentication required"}
	}
	info, err := v.auth.Authenticate(token)
	if err != nil {
		v.logger.Warn("credential validation failed", "error", err, "path", req.URL.Path)
		return authInfo{}, &RequestError{Status: http.StatusUnauthorized, Message: "authentication failed"}
	}
	return info, nil
}
