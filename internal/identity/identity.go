// Package identity resolves a validated access token into a portal identity
// and role by calling the provider's profile endpoint.
package identity

import "time"

// Role is a portal permission tier.
type Role string

// The portal's role set. Admin and Viewer are derived from the allow-list;
// Staff only ever enters through a persisted snapshot (it exists so cached
// identities written by earlier portal revisions keep round-tripping).
const (
	RoleAdmin  Role = "Admin"
	RoleStaff  Role = "Staff"
	RoleViewer Role = "Viewer"
)

// Action is a portal operation gated by role.
type Action string

// Gated actions.
const (
	ActionView   Action = "view"
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
)

// Identity is the resolved portal user. It is derived state — always
// reconstructible from a valid access token — and is cached in the credential
// store only to avoid a loading flash on the next startup.
type Identity struct {
	ID         string
	Email      string
	Name       string
	PictureURL string
	Role       Role
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Can reports whether the identity's role permits the action. Viewing is open
// to every role, uploading to Admin and Staff, deletion to Admin only.
func (i *Identity) Can(action Action) bool {
	switch action {
	case ActionView:
		return i.Role == RoleAdmin || i.Role == RoleStaff || i.Role == RoleViewer
	case ActionUpload:
		return i.Role == RoleAdmin || i.Role == RoleStaff
	case ActionDelete:
		return i.Role == RoleAdmin
	default:
		return false
	}
}
