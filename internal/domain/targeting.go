package domain

import (
	"fmt"
	"strings"
)

// Role is a platform user role token.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

func ParseRoleFromString(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return r, nil
}

// TargetingSpec is an ephemeral audience description resolved to concrete
// recipients at send time.
//
// SpecificIDs, when non-empty, takes absolute precedence and every other
// dimension is ignored. Otherwise each non-empty dimension narrows the
// candidate set (conjunction across dimensions, disjunction within one).
// An all-empty spec resolves to everyone; callers who do not intend a
// broadcast must reject it before resolving.
type TargetingSpec struct {
	SpecificIDs  []string
	Roles        []string
	StudentTypes []string
	Grades       []string
	Batches      []string
	Subjects     []string
	Teachers     []string
}

// IsEmpty reports whether no dimension is supplied at all, i.e. a broadcast.
func (s TargetingSpec) IsEmpty() bool {
	return len(s.SpecificIDs) == 0 &&
		len(s.Roles) == 0 &&
		len(s.StudentTypes) == 0 &&
		len(s.Grades) == 0 &&
		len(s.Batches) == 0 &&
		len(s.Subjects) == 0 &&
		len(s.Teachers) == 0
}

// Validate rejects malformed specs. Unknown role tokens are an error rather
// than a silently dropped filter.
func (s TargetingSpec) Validate() error {
	for _, raw := range s.Roles {
		if _, err := ParseRoleFromString(raw); err != nil {
			return err
		}
	}
	return nil
}

// Recipient is one resolved audience member.
type Recipient struct {
	ID             string
	DisplayName    string
	ContactAddress string
}
