// Package identity talks to the identity provider and publishes auth state changes.
package identity

import (
	"context"
	"time"
)

// AuthState is one auth state change. IdentityID is empty when signed out.
type AuthState struct {
	SignedIn   bool
	IdentityID string
}

// Account is what a successful sign-in or sign-up yields.
type Account struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	IDToken     string
	ExpiresAt   time.Time
	Federated   bool // signed in through an external identity (Google)
	NewUser     bool // the provider created the account during this call
}

// CredentialKind selects how SignInWithCredential authenticates.
type CredentialKind int

const (
	PasswordCredential CredentialKind = iota + 1
	GoogleCredential
)

// Credential is the input of SignInWithCredential.
type Credential struct {
	Kind     CredentialKind
	Email    string // PasswordCredential
	Password string // PasswordCredential
	IDToken  string // GoogleCredential: a Google-issued ID token
}

// Provider is the identity provider contract consumed by the application.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Account, error)
	SignInWithCredential(ctx context.Context, c Credential) (Account, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	// Subscribe returns a feed of auth state changes that starts with the current state.
	Subscribe() (<-chan AuthState, func())
}
