// Package rbac maps per-course collaborator roles to the actions they allow.
// The course author is not modeled as a role here; authorship is checked
// against the course record directly and always outranks a collaborator role.
package rbac

type Role string
type Action string

const (
	RoleViewer       Role = "viewer"
	RoleCollaborator Role = "collaborator"
	RoleAuthor       Role = "author"
)

const (
	ActionRead    Action = "read"
	ActionPropose Action = "propose"
	ActionEdit    Action = "edit"
	ActionApprove Action = "approve"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAuthor:
		return true
	case RoleCollaborator:
		return action == ActionRead || action == ActionPropose
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCollaborator, RoleAuthor:
		return Role(role)
	default:
		return RoleViewer
	}
}
