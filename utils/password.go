package utils

import (
	"crypto/rand"
	"math/big"
)

const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// GenerateRandomPassword mints the throwaway credential for a guest account.
// It is hashed immediately and never transmitted to the client; the customer
// gets in via the password-reset flow of the identity provider.
func GenerateRandomPassword(length int) (string, error) {
	password := make([]byte, length)
	max := big.NewInt(int64(len(passwordCharset)))
	for i := range password {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		password[i] = passwordCharset[n.Int64()]
	}
	return string(password), nil
}
