package models

import (
	"fmt"
	"time"
)

// ImageStatus is the closed set of workflow states for a signed image
// record. Transitions are monotonic: once a record leaves
// AwaitingSignature it never re-enters it, and the two terminal states
// accept no further transitions except deletion.
type ImageStatus string

const (
	// StatusAwaitingSignature is set on upload.
	StatusAwaitingSignature ImageStatus = "awaiting_signature"
	// StatusPendingAdminSignature means support has asked an admin to sign.
	StatusPendingAdminSignature ImageStatus = "pending_admin_signature"
	// StatusSigned is the terminal success state.
	StatusSigned ImageStatus = "signed"
	// StatusRejected is the terminal failure state.
	StatusRejected ImageStatus = "rejected"
)

// ParseImageStatus maps stored text to an ImageStatus, rejecting
// anything outside the closed set. Status values are never compared as
// free strings.
func ParseImageStatus(s string) (ImageStatus, error) {
	switch ImageStatus(s) {
	case StatusAwaitingSignature, StatusPendingAdminSignature, StatusSigned, StatusRejected:
		return ImageStatus(s), nil
	default:
		return "", fmt.Errorf("unknown image status %q", s)
	}
}

// Terminal reports whether the status accepts no further transitions.
func (s ImageStatus) Terminal() bool {
	return s == StatusSigned || s == StatusRejected
}

// SignedImage is an image record moving through the signing workflow.
//
// CanonicalData is always re-derivable from OriginalData by the
// canonicalizer; Signature, when set, verifies against CanonicalData
// under the process key pair. OriginalData is replaced by the
// signature-embedded bytes when the record reaches StatusSigned - both
// mutations land in the same transaction as the status flip.
type SignedImage struct {
	ID            string
	OwnerID       string
	DisplayName   string
	OriginalData  []byte
	CanonicalData []byte
	Signature     string // empty until signed
	StorageKey    string // object-storage key of the mirrored signed bytes, if mirrored
	Status        ImageStatus
	Comment       string // reviewer comment on rejection, notification-only
	UploadedAt    time.Time
	UpdatedAt     time.Time
}
