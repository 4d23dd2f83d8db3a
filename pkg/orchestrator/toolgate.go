package orchestrator

import (
	"fmt"

	"github.com/runloom/runloom/pkg/contract"
)

// ToolGate is the allowlist check handed to an executor. Every tool
// dispatch must pass Check first; a denial is a contract violation that
// fails the whole step — it never silently no-ops.
type ToolGate struct {
	perms contract.Permissions
}

// NewToolGate creates a gate over the contract's permissions.
func NewToolGate(perms contract.Permissions) *ToolGate {
	return &ToolGate{perms: perms}
}

// Check returns ErrToolDenied when the tool is outside the allowlist. The
// executor is expected to propagate the error; the attempt loop treats it
// as permanent.
func (g *ToolGate) Check(tool string) error {
	if !g.perms.Allows(tool) {
		return fmt.Errorf("%w: %q", ErrToolDenied, tool)
	}
	return nil
}

// Allowed returns the allowlist for prompt construction.
func (g *ToolGate) Allowed() []string {
	out := make([]string, len(g.perms.AllowedTools))
	copy(out, g.perms.AllowedTools)
	return out
}
