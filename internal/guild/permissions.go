package guild

import (
	"github.com/bwmarrin/discordgo"
)

// ElevatedPermissions exempt a member from scanning, punishment and lockdown
const ElevatedPermissions int64 = discordgo.PermissionAdministrator |
	discordgo.PermissionManageServer |
	discordgo.PermissionManageMessages |
	discordgo.PermissionModerateMembers

// BasePermissions computes guild-level permissions from @everyone plus the member's roles
func BasePermissions(guildID, ownerID, userID string, roles []*discordgo.Role, memberRoles []string) int64 {
	if userID == ownerID {
		return discordgo.PermissionAll
	}

	held := make(map[string]struct{}, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = struct{}{}
	}

	var perms int64
	for _, role := range roles {
		if role.ID == guildID {
			perms |= role.Permissions
			continue
		}
		if _, ok := held[role.ID]; ok {
			perms |= role.Permissions
		}
	}

	if perms&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll
	}
	return perms
}

// HighestRole returns the highest positioned role from roleIDs
func HighestRole(roles []*discordgo.Role, roleIDs []string) *discordgo.Role {
	var highest *discordgo.Role
	for _, roleID := range roleIDs {
		for _, role := range roles {
			if role.ID == roleID {
				if highest == nil || role.Position > highest.Position {
					highest = role
				}
			}
		}
	}
	return highest
}

// Protection decides which principals are exempt from enforcement in one guild
type Protection struct {
	GuildOwnerID   string
	OperatorIDs    []string
	ProtectedRoles []string
}

// Reason returns why m is protected, or "" when it is not
func (p Protection) Reason(m *Member) string {
	if m == nil {
		return ""
	}

	switch {
	case contains(p.OperatorIDs, m.ID):
		return "bot operator"
	case m.ID == p.GuildOwnerID:
		return "server owner"
	case m.Permissions&discordgo.PermissionAdministrator != 0:
		return "administrator"
	case m.Permissions&ElevatedPermissions != 0:
		return "moderator permissions"
	}

	for _, roleID := range m.Roles {
		if contains(p.ProtectedRoles, roleID) {
			return "protected role"
		}
	}
	return ""
}

func (p Protection) IsProtected(m *Member) bool {
	return p.Reason(m) != ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
