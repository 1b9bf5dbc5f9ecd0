// Package auth implements a small credential-issuance service: user signup
// with bcrypt password digests, credential login that issues signed JWT
// bearer tokens, and an identity resolver that turns a presented token back
// into a stored user.
//
// Pipeline:
//   - Service.Signup checks the Credential Store for the username, hashes the
//     password with a PasswordHasher and inserts the record. A uniqueness
//     violation at insert is reported as ErrUsernameTaken, same as the
//     pre-check.
//   - Service.Login looks the user up, verifies the password and issues a
//     token through the TokenCodec with the configured TTL.
//   - IdentityResolver.Resolve verifies a token and reloads the user on every
//     call. Any failure is reported as ErrUnauthenticated.
//
// Configuration:
//   - Settings is an immutable value loaded once at startup (LoadSettings)
//     from the environment and optional .env files, then passed to the
//     constructors that need it.
//
// Activity sinks:
//   - ActivitySink receives signup and login events. Sinks run best-effort
//     (errors are logged) so they never block authentication.
package auth
