package identity

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrorKind is the provider-independent classification of identity failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindEmailAlreadyInUse
	KindInvalidEmail
	KindWeakPassword
	KindUserNotFound
	KindWrongPassword
	KindTooManyRequests
	KindInvalidCredential
	KindUserDisabled
	KindNetwork
)

var kindMessages = map[ErrorKind]string{
	KindUnknown:           "authentication failed",
	KindEmailAlreadyInUse: "this e-mail address is already in use",
	KindInvalidEmail:      "invalid e-mail address",
	KindWeakPassword:      "password is too weak (at least 6 characters)",
	KindUserNotFound:      "no account for this e-mail address",
	KindWrongPassword:     "wrong password",
	KindTooManyRequests:   "too many attempts, try again later",
	KindInvalidCredential: "invalid credential",
	KindUserDisabled:      "this account is disabled",
	KindNetwork:           "identity provider unreachable",
}

// Message is the user-facing text for the kind.
func (k ErrorKind) Message() string { return kindMessages[k] }

func (k ErrorKind) String() string {
	switch k {
	case KindEmailAlreadyInUse:
		return "email_already_in_use"
	case KindInvalidEmail:
		return "invalid_email"
	case KindWeakPassword:
		return "weak_password"
	case KindUserNotFound:
		return "user_not_found"
	case KindWrongPassword:
		return "wrong_password"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindUserDisabled:
		return "user_disabled"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is an identity failure mapped to an ErrorKind.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Message())
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.Message(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, KindUnknown if err is not an *Error.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// provider error codes, as returned in the error message of the identity toolkit API
var codeKinds = map[string]ErrorKind{
	"EMAIL_EXISTS":                KindEmailAlreadyInUse,
	"INVALID_EMAIL":               KindInvalidEmail,
	"MISSING_EMAIL":               KindInvalidEmail,
	"WEAK_PASSWORD":               KindWeakPassword,
	"MISSING_PASSWORD":            KindWeakPassword,
	"EMAIL_NOT_FOUND":             KindUserNotFound,
	"USER_NOT_FOUND":              KindUserNotFound,
	"INVALID_PASSWORD":            KindWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":   KindWrongPassword,
	"TOO_MANY_ATTEMPTS_TRY_LATER": KindTooManyRequests,
	"INVALID_IDP_RESPONSE":        KindInvalidCredential,
	"INVALID_ID_TOKEN":            KindInvalidCredential,
	"USER_DISABLED":               KindUserDisabled,
}

// mapError translates a provider error once, at the boundary.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return KindNetwork
	}
	// messages look like "WEAK_PASSWORD : Password should be at least 6 characters"
	code := strings.TrimSpace(gerr.Message)
	if i := strings.IndexAny(code, " :"); i >= 0 {
		code = code[:i]
	}
	if k, ok := codeKinds[code]; ok {
		return k
	}
	if gerr.Code == 429 {
		return KindTooManyRequests
	}
	return KindUnknown
}
