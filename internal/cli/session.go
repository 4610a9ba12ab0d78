package cli

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/profilesync/internal/config"
	"github.com/and161185/profilesync/internal/identity"
)

var errNoSession = errors.New("no valid session (sign in required)")

type sessionFile struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	IDToken   string    `json:"id_token"`
	ExpiresAt time.Time `json:"expires_at"`
	Federated bool      `json:"federated,omitempty"`
}

func sessionPath() string { return filepath.Join(config.Dir(), "session.json") }

func saveSession(acct identity.Account) error {
	if err := os.MkdirAll(config.Dir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(sessionFile{
		UID:       acct.UID,
		Email:     acct.Email,
		IDToken:   acct.IDToken,
		ExpiresAt: acct.ExpiresAt,
		Federated: acct.Federated,
	})
}

func loadSession() (identity.Account, error) {
	b, err := os.ReadFile(sessionPath())
	if errors.Is(err, fs.ErrNotExist) {
		return identity.Account{}, errNoSession
	}
	if err != nil {
		return identity.Account{}, err
	}
	var sf sessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return identity.Account{}, err
	}
	if sf.UID == "" || (!sf.ExpiresAt.IsZero() && time.Now().After(sf.ExpiresAt)) {
		return identity.Account{}, errNoSession
	}
	return identity.Account{
		UID:       sf.UID,
		Email:     sf.Email,
		IDToken:   sf.IDToken,
		ExpiresAt: sf.ExpiresAt,
		Federated: sf.Federated,
	}, nil
}

func clearSession() error {
	err := os.Remove(sessionPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
