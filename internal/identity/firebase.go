package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// FirebaseConfig configures the Firebase identity provider.
type FirebaseConfig struct {
	APIKey          string // web API key, required
	ProjectID       string
	CredentialsFile string // service account; enables server-side verification of restored sessions
	GoogleClientID  string // audience of Google ID tokens
}

// TokenVerifier verifies Firebase ID tokens. Implemented by *auth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Firebase implements Provider on Firebase Authentication.
type Firebase struct {
	tk       toolkit
	validate validateFunc
	verifier TokenVerifier
	clientID string
	log      *zap.Logger
	now      func() time.Time

	broker

	mu      sync.Mutex
	account *Account
}

var _ Provider = (*Firebase)(nil)

// NewFirebase builds the provider from configuration.
func NewFirebase(ctx context.Context, cfg FirebaseConfig, log *zap.Logger) (*Firebase, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase: missing api key")
	}
	tk, err := newRelyingParty(ctx, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("identity toolkit: %w", err)
	}
	var verifier TokenVerifier
	if cfg.CredentialsFile != "" {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, option.WithCredentialsFile(cfg.CredentialsFile))
		if err != nil {
			return nil, fmt.Errorf("firebase app: %w", err)
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase auth: %w", err)
		}
		verifier = client
	}
	return newFirebase(tk, idtoken.Validate, verifier, cfg.GoogleClientID, log), nil
}

func newFirebase(tk toolkit, validate validateFunc, verifier TokenVerifier, clientID string, log *zap.Logger) *Firebase {
	if log == nil {
		log = zap.NewNop()
	}
	return &Firebase{
		tk:       tk,
		validate: validate,
		verifier: verifier,
		clientID: clientID,
		log:      log,
		now:      time.Now,
	}
}

// SignUp creates a password account and signs it in.
func (f *Firebase) SignUp(ctx context.Context, email, password string) (Account, error) {
	email = strings.TrimSpace(email)
	switch {
	case !validEmail(email):
		return Account{}, &Error{Op: "sign up", Kind: KindInvalidEmail}
	case len(password) < minPasswordLen:
		return Account{}, &Error{Op: "sign up", Kind: KindWeakPassword}
	}
	res, err := f.tk.SignUp(ctx, email, password)
	if err != nil {
		return Account{}, mapError("sign up", err)
	}
	return f.signedIn(f.toAccount(res, false)), nil
}

// SignInWithCredential signs in with a password or a Google ID token.
func (f *Firebase) SignInWithCredential(ctx context.Context, c Credential) (Account, error) {
	switch c.Kind {
	case PasswordCredential:
		email := strings.TrimSpace(c.Email)
		if !validEmail(email) {
			return Account{}, &Error{Op: "sign in", Kind: KindInvalidEmail}
		}
		res, err := f.tk.SignIn(ctx, email, c.Password)
		if err != nil {
			return Account{}, mapError("sign in", err)
		}
		return f.signedIn(f.toAccount(res, false)), nil

	case GoogleCredential:
		return f.signInWithGoogle(ctx, c.IDToken)

	default:
		return Account{}, &Error{Op: "sign in", Kind: KindInvalidCredential}
	}
}

func (f *Firebase) signInWithGoogle(ctx context.Context, token string) (Account, error) {
	if token == "" {
		return Account{}, &Error{Op: "google sign in", Kind: KindInvalidCredential}
	}
	payload, err := f.validate(ctx, token, f.clientID)
	if err != nil {
		return Account{}, &Error{Op: "google sign in", Kind: KindInvalidCredential, Err: err}
	}

	body := url.Values{"id_token": {token}, "providerId": {"google.com"}}
	res, err := f.tk.SignInWithIdp(ctx, body.Encode(), "http://localhost")
	if err != nil {
		return Account{}, mapError("google sign in", err)
	}

	acct := f.toAccount(res, true)
	// the provider response may lack profile data the Google token carries
	if acct.Email == "" {
		acct.Email = claim(payload, "email")
	}
	if acct.DisplayName == "" {
		acct.DisplayName = strings.TrimSpace(claim(payload, "given_name") + " " + claim(payload, "family_name"))
		if acct.DisplayName == "" {
			acct.DisplayName = claim(payload, "name")
		}
	}
	if acct.PhotoURL == "" {
		acct.PhotoURL = claim(payload, "picture")
	}
	return f.signedIn(acct), nil
}

// SignOut forgets the session and publishes the signed-out state.
func (f *Firebase) SignOut(context.Context) error {
	f.mu.Lock()
	f.account = nil
	f.mu.Unlock()
	f.publish(AuthState{})
	return nil
}

// SendPasswordReset asks the provider to e-mail a reset link.
func (f *Firebase) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return &Error{Op: "password reset", Kind: KindInvalidEmail}
	}
	return mapError("password reset", f.tk.SendPasswordReset(ctx, email))
}

// Restore re-establishes a saved session. With a configured verifier the ID token is checked
// server-side; otherwise only its expiry is.
func (f *Firebase) Restore(ctx context.Context, acct Account) error {
	if acct.UID == "" || acct.IDToken == "" {
		return &Error{Op: "restore", Kind: KindInvalidCredential}
	}
	if !acct.ExpiresAt.IsZero() && !f.now().Before(acct.ExpiresAt) {
		return &Error{Op: "restore", Kind: KindInvalidCredential, Err: errors.New("token expired")}
	}
	if f.verifier != nil {
		tok, err := f.verifier.VerifyIDToken(ctx, acct.IDToken)
		if err != nil {
			return &Error{Op: "restore", Kind: KindInvalidCredential, Err: err}
		}
		if tok.UID != acct.UID {
			return &Error{Op: "restore", Kind: KindInvalidCredential, Err: errors.New("token subject mismatch")}
		}
	}
	f.signedIn(acct)
	return nil
}

// Current returns the signed-in account.
func (f *Firebase) Current() (Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil {
		return Account{}, false
	}
	return *f.account, true
}

// Subscribe returns the auth state feed.
func (f *Firebase) Subscribe() (<-chan AuthState, func()) { return f.subscribe() }

func (f *Firebase) signedIn(acct Account) Account {
	f.mu.Lock()
	a := acct
	f.account = &a
	f.mu.Unlock()
	f.log.Info("signed in", zap.String("uid", acct.UID), zap.Bool("federated", acct.Federated))
	f.publish(AuthState{SignedIn: true, IdentityID: acct.UID})
	return acct
}

func (f *Firebase) toAccount(res toolkitResult, federated bool) Account {
	return Account{
		UID:         res.LocalID,
		Email:       res.Email,
		DisplayName: res.DisplayName,
		PhotoURL:    res.PhotoURL,
		IDToken:     res.IDToken,
		ExpiresAt:   TokenExpiry(res.IDToken),
		Federated:   federated,
		NewUser:     res.NewUser,
	}
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Zero if unreadable.
func TokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func claim(p *idtoken.Payload, key string) string {
	if p == nil {
		return ""
	}
	s, _ := p.Claims[key].(string)
	return s
}

// minPasswordLen is the provider's own minimum; checked locally to skip a round trip.
const minPasswordLen = 6

func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	return ok && local != "" && domain != "" && !strings.ContainsAny(email, " \t")
}
