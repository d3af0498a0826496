package autorole

import (
	"context"
	"fmt"
	"time"

	"warden/internal/metrics"
	"warden/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
)

const assignTimeout = 10 * time.Second

// RoleAssigner grants a role to a guild member.
type RoleAssigner interface {
	AssignRole(guildID, userID, roleID string) error
}

type Module struct {
	roles RoleAssigner
	audit *audit.Logger
}

func New(roles RoleAssigner, auditLogger *audit.Logger) *Module {
	return &Module{roles: roles, audit: auditLogger}
}

// HandleJoin gives a new member roleID. Bots and guilds without an autorole are skipped.
func (m *Module) HandleJoin(ctx context.Context, event *discordgo.GuildMemberAdd, roleID string) bool {
	if event.Member == nil || event.Member.User == nil || roleID == "" {
		return false
	}
	if event.Member.User.Bot {
		return false
	}
	guildID := event.Member.GuildID
	if guildID == "" {
		guildID = event.GuildID
	}
	userID := event.Member.User.ID
	for _, existing := range event.Member.Roles {
		if existing == roleID {
			return false
		}
	}

	ctx, cancel := context.WithTimeout(ctx, assignTimeout)
	defer cancel()
	if err := m.roles.AssignRole(guildID, userID, roleID); err != nil {
		m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventAutoroleFailed, fmt.Sprintf("role=%s error=%v", roleID, err))
		return false
	}
	metrics.ModerationActions.WithLabelValues("autorole").Inc()
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventAutorole, "role="+roleID)
	return true
}
