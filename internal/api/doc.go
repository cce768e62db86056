// Package api is the REST client of the social backend.
//
// Endpoints:
//   - GET  /api/v1/{resource}/{parent_id}?page={n}   list page, newest first
//   - POST /api/v1/{resource}/{parent_id}            create comment/message
//   - PUT  /api/v1/notifications/{id}/read           mark notification read
//
// Every call needs a bearer session; a missing or expired session fails with
// *AuthError before anything is sent. Everything else that goes wrong on the
// wire is a *NetworkError.
package api
