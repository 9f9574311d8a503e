// Package auth implements credential authentication and session lifecycle
// for the shelf catalog backend.
//
// Accounts sign up and sign in with email and password. A successful signin
// returns a short lived access token and a longer lived refresh token, both
// HS256 JWTs signed with separate secrets. Only a bcrypt fingerprint of the
// current refresh token is stored, one per account, so issuing a new pair or
// logging out invalidates the previous refresh token.
//
// Repeated failed signins lock the account for a fixed window. The counter
// and the lock deadline are updated in a single statement so concurrent
// failures cannot lose an increment.
//
// Activity sinks:
//   - ActivitySink receives SIGNUP, SIGNIN, LOGOUT, PASSWORD_CHANGE and
//     TOKEN_REFRESH events. The bun backed AuditLogs repository implements it.
//     Sink errors are logged and never fail the operation that produced them.
//
// AuthController exposes the Auther over JSON routes using go-router, with
// jwtware guarding the routes that need an access or refresh token.
package auth
