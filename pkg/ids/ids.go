// Package ids defines the opaque string identifier newtypes named in the
// data model (§3): agent, task, session, and workspace IDs are all random
// UUIDs at creation, globally unique within process lifetime.
package ids

import "github.com/google/uuid"

type (
	AgentID     string
	TaskID      string
	SessionID   string
	WorkspaceID string
)

func NewAgentID() AgentID         { return AgentID("agent-" + uuid.New().String()) }
func NewTaskID() TaskID           { return TaskID("task-" + uuid.New().String()) }
func NewSessionID() SessionID     { return SessionID("session-" + uuid.New().String()) }
func NewWorkspaceID() WorkspaceID { return WorkspaceID("workspace-" + uuid.New().String()) }

func (a AgentID) String() string     { return string(a) }
func (t TaskID) String() string      { return string(t) }
func (s SessionID) String() string   { return string(s) }
func (w WorkspaceID) String() string { return string(w) }
