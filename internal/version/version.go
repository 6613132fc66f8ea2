// In file: internal/version/version.go

// Package version centralizes the versioning for different logical components of the agent.
//
// The component versions are embedded in session keys. A stored conversation
// carries tool calls and results shaped by the tool schemas and the system
// prompt of the release that wrote it; bumping Tools or Prompt makes older
// sessions unreachable instead of replaying them against a changed contract.
package version

import (
	"fmt"
)

// ComponentVersions holds the version strings for different logical parts of the application.
// Manually increment a version number here before you deploy a change to that component.
var ComponentVersions = struct {
	// Tools changes whenever a tool's name, arguments or result shape changes.
	Tools string

	// Prompt changes whenever the system prompt given to the backend changes.
	Prompt string
}{
	Tools:  "v1.2",
	Prompt: "v1.0",
}

// Fingerprint is the compact form of the component versions, e.g. "tv1.2_pv1.0".
func Fingerprint() string {
	return fmt.Sprintf("tv%s_pv%s", ComponentVersions.Tools, ComponentVersions.Prompt)
}

// SessionKey builds the storage key for a conversation.
//
// Example output: "sprout:session:0b6f...:tv1.2_pv1.0"
func SessionKey(prefix, token string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, token, Fingerprint())
}
