package activity

import "github.com/opsdesk/opsdesk/internal/auth"

// The authorization policy is a set of pure predicates over (principal,
// activity). It holds no state and performs no I/O; the engine evaluates it
// after fetching the row so that a missing activity reports NotFound before
// a permission denial.
//
//	           create                read        update             delete
//	admin      any responsible       all rows    any row            yes
//	editor     any responsible       own rows    own rows only      no
//	view       responsible = self    own rows    never              no
//
// "Own rows" means created by or assigned to the actor.

// ForcedResponsible applies the self-assignment rule: a view-role actor may
// only create activities assigned to themselves, whatever the request said.
func ForcedResponsible(p *auth.Principal, requested *int64) *int64 {
	if p.Role == auth.RoleView {
		id := p.ID
		return &id
	}
	return requested
}

// CanRead reports whether the actor may see the given activity.
func CanRead(p *auth.Principal, a *Activity) bool {
	if p.IsAdmin() {
		return true
	}
	return ownerOrResponsible(p, a)
}

// CanUpdate reports whether the actor may mutate the given activity. View
// actors are denied unconditionally, before ownership is considered.
func CanUpdate(p *auth.Principal, a *Activity) bool {
	if p.Role == auth.RoleView {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	return ownerOrResponsible(p, a)
}

// CanDelete reports whether the actor may delete activities. Admin only.
func CanDelete(p *auth.Principal) bool {
	return p.IsAdmin()
}

func ownerOrResponsible(p *auth.Principal, a *Activity) bool {
	if a.CreatedBy != nil && *a.CreatedBy == p.ID {
		return true
	}
	if a.ResponsibleID != nil && *a.ResponsibleID == p.ID {
		return true
	}
	return false
}
