package realtime

// Roles known to the hub.
const (
	RoleRequester = "requester"
	RoleCollector = "collector"
	RoleOperator  = "operator"
)

// RoleRoom is joined by every session with the role.
func RoleRoom(role string) string { return "role:" + role }

// OrgRoom is joined by the collectors and operators of the organization.
// Requesters never join it; they are reached through their user room.
func OrgRoom(id string) string { return "org:" + id }

// UserRoom is the personal room of a user.
func UserRoom(id string) string { return "user:" + id }

// roomsFor derives memberships from a verified identity only.
func roomsFor(id Identity) []string {
	rooms := []string{RoleRoom(id.Role)}
	if id.OrganizationID != "" && id.Role != RoleRequester {
		rooms = append(rooms, OrgRoom(id.OrganizationID))
	}
	return append(rooms, UserRoom(id.UserID))
}
