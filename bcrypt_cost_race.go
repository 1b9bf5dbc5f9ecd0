//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds are slow enough at the default cost
	return bcrypt.DefaultCost
}
