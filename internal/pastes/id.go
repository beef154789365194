package pastes

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// IDSchemeNanoID issues URL-safe NanoIDs.
	IDSchemeNanoID = "nanoid"
	// IDSchemeUUID issues random UUIDv4 values truncated to a hex prefix.
	IDSchemeUUID = "uuid"

	defaultNanoIDLength = 12
	defaultUUIDLength   = 8
	uuidHexLength       = 32
)

// IDProvider issues candidate paste identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// NewIDProvider constructs the provider for scheme. A non-positive length selects the scheme default.
func NewIDProvider(scheme string, length int) (IDProvider, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case IDSchemeNanoID, "":
		return NewNanoIDProvider(length), nil
	case IDSchemeUUID:
		return NewUUIDProvider(length), nil
	default:
		return nil, fmt.Errorf("pastes: unknown id scheme %q", scheme)
	}
}

type nanoIDProvider struct {
	length int
}

// NewNanoIDProvider issues NanoIDs of the given length (64-symbol alphabet, 6 bits per character).
func NewNanoIDProvider(length int) IDProvider {
	if length <= 0 {
		length = defaultNanoIDLength
	}
	return &nanoIDProvider{length: length}
}

func (p *nanoIDProvider) NewID() (string, error) {
	return gonanoid.New(p.length)
}

type uuidProvider struct {
	length int
}

// NewUUIDProvider issues the first length hex characters of a random UUIDv4.
// Eight characters carry 32 bits, so collisions become likely after tens of thousands of pastes;
// the engine retries on reported collisions.
func NewUUIDProvider(length int) IDProvider {
	if length <= 0 {
		length = defaultUUIDLength
	}
	if length > uuidHexLength {
		length = uuidHexLength
	}
	return &uuidProvider{length: length}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(value.String(), "-", "")[:p.length], nil
}
