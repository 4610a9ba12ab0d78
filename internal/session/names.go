package session

import "strings"

const fallbackFirstName = "Utilisateur"

// DefaultFirstName derives a first name from the local part of an e-mail address.
func DefaultFirstName(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return fallbackFirstName
	}
	return local
}

// SplitDisplayName splits a provider display name into first word and remainder.
func SplitDisplayName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
