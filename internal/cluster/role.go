package cluster

import (
	"fmt"
	"strings"
)

// Role is the process-wide replication role.
type Role int

const (
	RoleFollower Role = iota
	RolePromoting
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RolePromoting:
		return "promoting"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRole accepts the configured initial roles "leader" and "follower".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "leader":
		return RoleLeader, nil
	case "follower", "":
		return RoleFollower, nil
	default:
		return RoleFollower, fmt.Errorf("unknown role %q", s)
	}
}
