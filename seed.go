package auth

import (
	"context"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// SeedUser is a sample account created by the seed command
type SeedUser struct {
	Username string
	Password string
}

// DefaultSeedUsers are the sample accounts used for local development
var DefaultSeedUsers = []SeedUser{
	{Username: "john_doe", Password: "password123"},
	{Username: "alice_smith", Password: "securepass456"},
	{Username: "bob_wilson", Password: "pass789!"},
	{Username: "emma_brown", Password: "emma2024"},
	{Username: "mike_jones", Password: "mikepass!"},
}

// SeedResult reports the outcome for one seed user
type SeedResult struct {
	Username string
	User     *User
	Err      error
}

// Skipped reports whether the user already existed
func (r SeedResult) Skipped() bool {
	return r.Err == ErrUsernameTaken
}

// HashidFromUsername derives a stable user id from the username so seeded
// databases get the same ids on every machine.
func HashidFromUsername(username string) (uuid.UUID, error) {
	return hashid.NewUUID(username)
}

// Seed signs up every seed user through the service. Existing usernames are
// reported as skipped, other errors abort.
func Seed(ctx context.Context, svc *Service, seeds []SeedUser) ([]SeedResult, error) {
	results := make([]SeedResult, 0, len(seeds))
	for _, seed := range seeds {
		user, err := svc.Signup(ctx, seed.Username, seed.Password)
		res := SeedResult{Username: seed.Username, User: user, Err: err}
		results = append(results, res)
		if err != nil && !res.Skipped() {
			return results, err
		}
	}
	return results, nil
}
