// Package roles resolves circle permissions from role assignments.
// It is pure derivation over two small collections; rosters are tens of
// members at most, so a linear scan is fine.
package roles

type Role string

// Role names are persisted in French, matching the stored data.
const (
	RoleModerator Role = "Modérateur"
	RoleScribe    Role = "Scribe"
	RoleHistorian Role = "Historien"
)

func Known(role Role) bool {
	switch role {
	case RoleModerator, RoleScribe, RoleHistorian:
		return true
	default:
		return false
	}
}

// Assignment is one (circle, role) holder as loaded from the store.
type Assignment struct {
	UserID   string
	RoleName Role
}

func IsCreator(creatorID, viewerID string) bool {
	return viewerID != "" && creatorID == viewerID
}

// Holds reports whether the viewer holds the role in the circle. The creator
// implicitly holds every role, so the circle stays manageable while a role
// is vacant.
func Holds(assignments []Assignment, creatorID, viewerID string, role Role) bool {
	if IsCreator(creatorID, viewerID) {
		return true
	}
	if viewerID == "" {
		return false
	}
	for _, a := range assignments {
		if a.RoleName == role && a.UserID == viewerID {
			return true
		}
	}
	return false
}

// CanWriteJournal gates journal entries to the Scribe or the creator.
func CanWriteJournal(assignments []Assignment, creatorID, viewerID string) bool {
	return Holds(assignments, creatorID, viewerID, RoleScribe)
}

// CanWriteHistory gates history entries to the Historian or the creator.
func CanWriteHistory(assignments []Assignment, creatorID, viewerID string) bool {
	return Holds(assignments, creatorID, viewerID, RoleHistorian)
}

// CanManage gates circle administration: readings, polls, role assignment.
func CanManage(creatorID, viewerID string) bool {
	return IsCreator(creatorID, viewerID)
}
