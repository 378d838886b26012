package models

import "time"

// Request and response payloads for the HTTP surface. Identities arrive as
// strings and are parsed at the boundary; handlers never pass raw strings
// into the service.

type CreateRecordRequest struct {
	URI string `json:"uri"`
}

type CreateRecordResponse struct {
	RecordID int64 `json:"record_id"`
}

type UpdateRecordRequest struct {
	URI string `json:"uri"`
}

type GrantAccessRequest struct {
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SetOperatorApprovalRequest struct {
	Approved bool `json:"approved"`
}

type RecordURIResponse struct {
	URI string `json:"uri"`
}

type AccessResponse struct {
	Allowed bool `json:"allowed"`
}

type CounterResponse struct {
	Count int64 `json:"count"`
}
