// Package deployment resolves caller-supplied deployment identifiers (a
// native content-addressable hash, or a legacy numeric installation id) into
// the canonical deployment hash used everywhere else in the control plane.
package deployment

import (
	"github.com/trydirect/deployctl/internal/cperrors"
)

// Kind discriminates the two forms an Identifier can take.
type Kind int

const (
	// KindHash is a native, already-resolved deployment hash.
	KindHash Kind = iota
	// KindInstallationID is a legacy numeric id requiring external resolution.
	KindInstallationID
)

// Identifier is a tagged variant of the two supported deployment identifier forms.
type Identifier struct {
	kind           Kind
	hash           string
	installationID int64
}

// Hash constructs a native-hash identifier.
func Hash(h string) Identifier {
	return Identifier{kind: KindHash, hash: h}
}

// InstallationID constructs a legacy installation-id identifier.
func InstallationID(id int64) Identifier {
	return Identifier{kind: KindInstallationID, installationID: id}
}

// Kind reports which form this identifier takes.
func (i Identifier) Kind() Kind { return i.kind }

// HashValue returns the raw hash for a KindHash identifier (empty otherwise).
func (i Identifier) HashValue() string { return i.hash }

// InstallationIDValue returns the raw id for a KindInstallationID identifier (0 otherwise).
func (i Identifier) InstallationIDValue() int64 { return i.installationID }

// FromOptions builds an Identifier from the two optional fields a request body
// may carry. When both are present, the hash wins. Supplying neither is a
// validation failure.
func FromOptions(hash *string, installationID *int64) (Identifier, error) {
	if hash != nil {
		return Hash(*hash), nil
	}
	if installationID != nil {
		return InstallationID(*installationID), nil
	}
	return Identifier{}, cperrors.Validation("either deployment_hash or deployment_id must be supplied")
}
