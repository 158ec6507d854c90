package identity

import (
	"context"
	"errors"
)

type Capability string

const (
	CapabilityDoctor  Capability = "doctor"
	CapabilityPatient Capability = "patient"
)

func (c Capability) IsValid() bool {
	switch c {
	case CapabilityDoctor, CapabilityPatient:
		return true
	}
	return false
}

// Actor is the authenticated party performing an operation. It has no
// persistence identity of its own inside the scheduling core.
type Actor struct {
	UID          string
	Name         string
	Email        string
	Capabilities []Capability
}

func (a Actor) Can(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Participant returns the value copy stored on slots and appointments.
func (a Actor) Participant() Participant {
	return Participant{UID: a.UID, Name: a.Name, Email: a.Email}
}

// Participant is an owned snapshot of a doctor or patient, not a reference.
type Participant struct {
	UID   string `json:"uid"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrCredentialExpired = errors.New("credential expired")
)

// Resolver turns an inbound credential into an Actor.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Actor, error)
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
