// Package auth implements the signer collaborator contract (§6
// "Authentication and signing"): an Authenticator adds whatever
// service-specific headers a request needs — date, authorization,
// bearer token — before it is sent. internal/pool.Client's
// PreRequestHook is an Authenticator.Sign closed over a *http.Request.
package auth
