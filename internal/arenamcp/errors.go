// Package arenamcp exposes a subset of the arena's read/write surface as
// MCP tools, grounded on the reference server's internal/mcpserver:
// the same mark3labs/mcp-go server wrapping service calls, the same
// toolResult/toolError/mapDomainError shape for surfacing domain errors
// as structured tool results instead of transport-level failures.
package arenamcp

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"arena/internal/arena/challenge"
	"arena/internal/arena/pairing"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
)

func toolResult(data any) *mcp.CallToolResult {
	return mcp.NewToolResultStructuredOnly(data)
}

func toolError(code, message string) *mcp.CallToolResult {
	result := mcp.NewToolResultStructured(
		map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": message,
			},
		},
		fmt.Sprintf("%s: %s", code, message),
	)
	result.IsError = true
	return result
}

func mapDomainError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return toolError("internal_error", "unknown error")
	case errors.Is(err, store.ErrNotFound):
		return toolError("not_found", err.Error())
	case errors.Is(err, pairing.ErrNoOpponent):
		return toolError("no_opponent", err.Error())
	case errors.Is(err, challenge.ErrNoChallenge):
		return toolError("no_challenge", err.Error())
	case errors.Is(err, scheduler.ErrNotEligible):
		return toolError("not_eligible", err.Error())
	default:
		var tooMany *scheduler.TooManyError
		if errors.As(err, &tooMany) {
			return toolError("too_many_matches", err.Error())
		}
		return toolError("internal_error", err.Error())
	}
}
