// Package identity is the credential lifecycle core for the client
// portal: one-time passcode issuance and verification, client
// registration over a verified email channel, a unified login resolver
// for staff and client principals, and the password reset protocol.
//
// The engines are stateless operations over externally owned storage:
// principals live in a relational table, pending verifications in
// redis. Nothing here renders a screen or routes a view; callers
// invoke the engines over the JSON surface in http_api.go.
package identity
