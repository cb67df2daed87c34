package schedule

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ProviderKind string

const (
	ProviderStaff    ProviderKind = "staff"
	ProviderResource ProviderKind = "resource"
)

var ErrInvalidProvider = errors.New("invalid provider reference")

// ProviderRef points at exactly one bookable provider: a staff member or a
// physical resource. Build it with Staff or Resource.
type ProviderRef struct {
	Kind ProviderKind
	ID   uuid.UUID
}

func Staff(id uuid.UUID) ProviderRef    { return ProviderRef{Kind: ProviderStaff, ID: id} }
func Resource(id uuid.UUID) ProviderRef { return ProviderRef{Kind: ProviderResource, ID: id} }

// ParseProviderRef builds a reference from its wire form ("staff", "<uuid>").
func ParseProviderRef(kind, id string) (ProviderRef, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return ProviderRef{}, fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	ref := ProviderRef{Kind: ProviderKind(kind), ID: pid}
	if err := ref.Validate(); err != nil {
		return ProviderRef{}, err
	}
	return ref, nil
}

func (p ProviderRef) Validate() error {
	switch p.Kind {
	case ProviderStaff, ProviderResource:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProvider, p.Kind)
	}
	if p.ID == uuid.Nil {
		return fmt.Errorf("%w: empty id", ErrInvalidProvider)
	}
	return nil
}

func (p ProviderRef) String() string {
	return string(p.Kind) + ":" + p.ID.String()
}

type ScopeKind string

const (
	ScopeAppointmentType ScopeKind = "appointment_type"
	ScopeProvider        ScopeKind = "provider"
)

// Scope identifies the owner of WorkingHours and Exception rows. The
// discovery path schedules by appointment type, the booking path by provider.
type Scope struct {
	kind              ScopeKind
	appointmentTypeID uuid.UUID
	provider          ProviderRef
}

func AppointmentTypeScope(id uuid.UUID) Scope {
	return Scope{kind: ScopeAppointmentType, appointmentTypeID: id}
}

func ProviderScope(ref ProviderRef) Scope {
	return Scope{kind: ScopeProvider, provider: ref}
}

func (s Scope) Kind() ScopeKind { return s.kind }

// Provider returns the provider and true when the scope is provider-owned.
func (s Scope) Provider() (ProviderRef, bool) {
	return s.provider, s.kind == ScopeProvider
}

// AppointmentTypeID returns the id and true when the scope is type-owned.
func (s Scope) AppointmentTypeID() (uuid.UUID, bool) {
	return s.appointmentTypeID, s.kind == ScopeAppointmentType
}

// Key returns the (scope_type, scope_id) pair used to store schedule rows.
// Provider scopes store the provider kind as the type.
func (s Scope) Key() (string, uuid.UUID) {
	if s.kind == ScopeProvider {
		return string(s.provider.Kind), s.provider.ID
	}
	return string(ScopeAppointmentType), s.appointmentTypeID
}

func (s Scope) Validate() error {
	switch s.kind {
	case ScopeProvider:
		return s.provider.Validate()
	case ScopeAppointmentType:
		if s.appointmentTypeID == uuid.Nil {
			return errors.New("appointment type scope without id")
		}
		return nil
	default:
		return errors.New("empty schedule scope")
	}
}

func (s Scope) String() string {
	t, id := s.Key()
	return t + ":" + id.String()
}

// ParseScope accepts "appointment_type", "staff" or "resource" as the type.
func ParseScope(scopeType, id string) (Scope, error) {
	if scopeType == string(ScopeAppointmentType) {
		tid, err := uuid.Parse(id)
		if err != nil {
			return Scope{}, fmt.Errorf("invalid appointment type id: %w", err)
		}
		s := AppointmentTypeScope(tid)
		return s, s.Validate()
	}
	ref, err := ParseProviderRef(scopeType, id)
	if err != nil {
		return Scope{}, err
	}
	return ProviderScope(ref), nil
}
