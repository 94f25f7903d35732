package tools

import "github.com/kilnai/kiln/internal/tool"

// Discover enumerates the built-in tool modules scoped to workspace,
// implementing spec.md §4.3 step 1 ("DiscoverTools(packages)"). The
// returned slice is handed to tool.Build, which applies any configured
// allowlist.
func Discover(workspace string) []tool.Spec {
	return []tool.Spec{
		NewShellTool(workspace),
		NewSaveTool(workspace),
		NewPatchTool(workspace),
		NewReadTool(workspace),
	}
}
