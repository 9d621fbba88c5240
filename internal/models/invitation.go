package models

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// InvitationAlphabet is the fixed alphabet codes are drawn from
	InvitationAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// InvitationCodeLength is the number of characters in a code
	InvitationCodeLength = 8
)

// InvitationCode is a short code a user hands out so others can add them
type InvitationCode struct {
	Value string `json:"value"`
}

// GenerateInvitationCode draws each character uniformly from InvitationAlphabet
func GenerateInvitationCode() (InvitationCode, error) {
	alphabetLen := big.NewInt(int64(len(InvitationAlphabet)))
	var sb strings.Builder
	sb.Grow(InvitationCodeLength)

	for i := 0; i < InvitationCodeLength; i++ {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return InvitationCode{}, err
		}
		sb.WriteByte(InvitationAlphabet[idx.Int64()])
	}
	return InvitationCode{Value: sb.String()}, nil
}

// ParseInvitationCode normalizes user input and validates it against the alphabet
func ParseInvitationCode(raw string) (InvitationCode, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if len(value) != InvitationCodeLength {
		return InvitationCode{}, ErrInvalidInvitationCode
	}
	for i := 0; i < len(value); i++ {
		if !strings.ContainsRune(InvitationAlphabet, rune(value[i])) {
			return InvitationCode{}, ErrInvalidInvitationCode
		}
	}
	return InvitationCode{Value: value}, nil
}

func (c InvitationCode) String() string {
	return c.Value
}

// Invitation is an issued code bound to the user who issued it
type Invitation struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	OwnerUserID string     `json:"ownerUserId"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
	UsedBy      string     `json:"usedBy,omitempty"`
}

// RedeemInvitationRequest is the request body for redeeming a code
type RedeemInvitationRequest struct {
	Code string `json:"code"`
}

// NewInvitation binds a code to its owner with the given lifetime
func NewInvitation(ownerUserID string, code InvitationCode, ttl time.Duration) *Invitation {
	now := time.Now().UTC()
	return &Invitation{
		ID:          uuid.New().String(),
		Code:        code.Value,
		OwnerUserID: ownerUserID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// IsExpired checks if the invitation has expired
func (i *Invitation) IsExpired() bool {
	return time.Now().UTC().After(i.ExpiresAt)
}

// IsValid checks if the invitation can still be redeemed
func (i *Invitation) IsValid() bool {
	return !i.Used && !i.IsExpired()
}

// MarkUsed records who redeemed the invitation
func (i *Invitation) MarkUsed(userID string) {
	now := time.Now().UTC()
	i.Used = true
	i.UsedAt = &now
	i.UsedBy = userID
}

// Invitation errors
var (
	ErrInvalidInvitationCode = InvitationError{"invitation code must be 8 letters or digits"}
	ErrInvitationNotFound    = InvitationError{"invitation code not found"}
	ErrInvitationExpired     = InvitationError{"invitation code has expired"}
	ErrInvitationUsed        = InvitationError{"invitation code has already been used"}
	ErrOwnInvitation         = InvitationError{"cannot redeem your own invitation code"}
	ErrInvitationCollision   = InvitationError{"could not allocate a unique invitation code"}
)

type InvitationError struct {
	Message string
}

func (e InvitationError) Error() string {
	return e.Message
}
