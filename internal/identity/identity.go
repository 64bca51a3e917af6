// Package identity handles who is talking to FitBounty.
//
// It provides:
//   - profile token helpers: decode npub/nprofile mentions to hex public keys
//   - AdminTokenIssuer     : exchanges the admin secret for HS256 session tokens
//   - RequireAdmin         : Gin middleware enforcing an admin Bearer token
package identity
