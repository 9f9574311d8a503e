//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds run far slower, keep hashing under test timeouts
	return bcrypt.DefaultCost
}
