package models

import "time"

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
	Clients   int       `json:"clients"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// ContactResponse is a single trusted contact in API responses
type ContactResponse struct {
	ContactUserID string    `json:"contactUserId"`
	DisplayName   string    `json:"displayName"`
	AddedAt       time.Time `json:"addedAt"`
}

// ContactListResponse is returned when listing trusted contacts
type ContactListResponse struct {
	Contacts   []ContactResponse `json:"contacts"`
	TotalCount int               `json:"totalCount"`
}

// InvitationResponse is an issued invitation code in API responses
type InvitationResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

// InvitationListResponse is returned when listing issued invitations
type InvitationListResponse struct {
	Invitations []InvitationResponse `json:"invitations"`
}

// ContactToResponse converts a TrustedContactLink to ContactResponse
func ContactToResponse(l *TrustedContactLink) ContactResponse {
	return ContactResponse{
		ContactUserID: l.ContactUserID,
		DisplayName:   l.DisplayName,
		AddedAt:       l.AddedAt,
	}
}

// InvitationToResponse converts an Invitation to InvitationResponse
func InvitationToResponse(i *Invitation) InvitationResponse {
	return InvitationResponse{
		Code:      i.Code,
		ExpiresAt: i.ExpiresAt,
		Used:      i.Used,
	}
}
