package identity

import (
	"context"

	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// toolkitResult is the subset of identity toolkit responses the provider uses.
type toolkitResult struct {
	LocalID     string
	Email       string
	DisplayName string
	PhotoURL    string
	IDToken     string
	NewUser     bool
}

// toolkit is the identity toolkit relying-party surface.
type toolkit interface {
	SignUp(ctx context.Context, email, password string) (toolkitResult, error)
	SignIn(ctx context.Context, email, password string) (toolkitResult, error)
	SignInWithIdp(ctx context.Context, postBody, requestURI string) (toolkitResult, error)
	SendPasswordReset(ctx context.Context, email string) error
}

type relyingParty struct{ rp *identitytoolkit.RelyingpartyService }

var _ toolkit = (*relyingParty)(nil)

func newRelyingParty(ctx context.Context, apiKey string, opts ...option.ClientOption) (*relyingParty, error) {
	svc, err := identitytoolkit.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &relyingParty{rp: svc.Relyingparty}, nil
}

func (r *relyingParty) SignUp(ctx context.Context, email, password string) (toolkitResult, error) {
	resp, err := r.rp.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return toolkitResult{}, err
	}
	return toolkitResult{
		LocalID:     resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		IDToken:     resp.IdToken,
		NewUser:     true,
	}, nil
}

func (r *relyingParty) SignIn(ctx context.Context, email, password string) (toolkitResult, error) {
	resp, err := r.rp.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return toolkitResult{}, err
	}
	return toolkitResult{
		LocalID:     resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.PhotoUrl,
		IDToken:     resp.IdToken,
	}, nil
}

func (r *relyingParty) SignInWithIdp(ctx context.Context, postBody, requestURI string) (toolkitResult, error) {
	resp, err := r.rp.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          postBody,
		RequestUri:        requestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return toolkitResult{}, err
	}
	return toolkitResult{
		LocalID:     resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.PhotoUrl,
		IDToken:     resp.IdToken,
		NewUser:     resp.IsNewUser,
	}, nil
}

func (r *relyingParty) SendPasswordReset(ctx context.Context, email string) error {
	_, err := r.rp.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		Email:       email,
		RequestType: "PASSWORD_RESET",
	}).Context(ctx).Do()
	return err
}
