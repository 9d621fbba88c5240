package models

import (
	"strings"
	"time"
)

// TrustedContactLink is a directed edge: the owner may see the contact's
// presence and ring their alarm. It is not required to be symmetric.
type TrustedContactLink struct {
	OwnerUserID   string    `json:"ownerUserId"`
	ContactUserID string    `json:"contactUserId"`
	DisplayName   string    `json:"displayName"`
	AddedAt       time.Time `json:"addedAt"`
}

// AddTrustedContactRequest is the request body for adding a trusted contact
type AddTrustedContactRequest struct {
	ContactUserID string `json:"contactUserId"`
	DisplayName   string `json:"displayName"`
}

// NewTrustedContactLink creates a link, rejecting self-trust
func NewTrustedContactLink(ownerUserID, contactUserID, displayName string) (*TrustedContactLink, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	contactUserID = strings.TrimSpace(contactUserID)
	displayName = strings.TrimSpace(displayName)

	if ownerUserID == "" {
		return nil, ErrEmptyOwnerID
	}
	if contactUserID == "" {
		return nil, ErrEmptyContactID
	}
	if strings.Contains(contactUserID, "/") {
		return nil, ErrInvalidContactID
	}
	if ownerUserID == contactUserID {
		return nil, ErrSelfTrust
	}

	return &TrustedContactLink{
		OwnerUserID:   ownerUserID,
		ContactUserID: contactUserID,
		DisplayName:   displayName,
		AddedAt:       time.Now().UTC(),
	}, nil
}

// Path returns the store path of the link document
func (l *TrustedContactLink) Path() string {
	return TrustedContactPath(l.OwnerUserID, l.ContactUserID)
}

// ToDocument returns the stored form of the link
func (l *TrustedContactLink) ToDocument() map[string]interface{} {
	return map[string]interface{}{
		FieldUID:     l.ContactUserID,
		FieldName:    l.DisplayName,
		FieldAddedAt: l.AddedAt,
	}
}

// TrustedContactFromDocument decodes a trustedContacts/{id} document.
// The contact id is taken from "uid", then "userId", then the document id.
// Links that would point back at the owner are dropped.
func TrustedContactFromDocument(ownerUserID, docID string, doc map[string]interface{}) *TrustedContactLink {
	contactID := asString(doc[FieldUID])
	if contactID == "" {
		contactID = asString(doc[FieldUserIDLegacy])
	}
	if contactID == "" {
		contactID = docID
	}
	if contactID == "" || contactID == ownerUserID {
		return nil
	}

	link := &TrustedContactLink{
		OwnerUserID:   ownerUserID,
		ContactUserID: contactID,
		DisplayName:   asString(doc[FieldName]),
	}
	if at, ok := asTime(doc[FieldAddedAt]); ok {
		link.AddedAt = at
	}
	return link
}

// Contact errors
var (
	ErrEmptyOwnerID     = ContactError{"owner user id cannot be empty"}
	ErrEmptyContactID   = ContactError{"contact user id cannot be empty"}
	ErrInvalidContactID = ContactError{"contact user id contains invalid characters"}
	ErrSelfTrust        = ContactError{"a user cannot add themselves as a trusted contact"}
	ErrContactNotFound  = ContactError{"trusted contact not found"}
	ErrUnknownUser      = ContactError{"user not found"}
)

type ContactError struct {
	Message string
}

func (e ContactError) Error() string {
	return e.Message
}
