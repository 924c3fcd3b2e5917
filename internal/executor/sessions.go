package executor

import (
	"fmt"

	"github.com/heathdorn/overseer/internal/store"
)

// sessionAllocator maps tasks to gateway session keys according to the
// project's session mode.
type sessionAllocator struct {
	project  *store.Project
	poolSize int
	next     int
}

func newSessionAllocator(p *store.Project, poolSize int) *sessionAllocator {
	if poolSize < 1 {
		poolSize = 1
	}
	return &sessionAllocator{project: p, poolSize: poolSize}
}

// bind returns the session key and agent name for a dispatch.
//
// per-task keys are derived from the task id, so retrying the same task
// lands in the session that already has its context. any-free shares one
// session per project. agent-pool rotates over a fixed set so at most
// poolSize distinct sessions accumulate history.
func (a *sessionAllocator) bind(t *store.Task) (sessionKey, agentName string) {
	switch a.project.SessionMode {
	case store.SessionAnyFree:
		return fmt.Sprintf("overseer:%s", a.project.ID), "agent"
	case store.SessionAgentPool:
		// A task already bound to a pool agent keeps it.
		if t.AssignedAgent != "" && t.SessionKey != "" {
			return t.SessionKey, t.AssignedAgent
		}
		n := a.next % a.poolSize
		a.next++
		return fmt.Sprintf("overseer:%s:agent-%d", a.project.ID, n), fmt.Sprintf("agent-%d", n)
	default: // per-task
		return fmt.Sprintf("overseer:task:%s", t.ID), "agent"
	}
}
