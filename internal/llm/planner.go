// In file: internal/llm/planner.go
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/antoine1anthony/sprout-ci/internal/tools"
)

// Planner is a deterministic, rule-based backend used when the agent runs
// with in-memory collaborators. It drives the deploy flow
// (provision_cluster, then install_gitops, then a summary) or a single
// stability evaluation, depending on the request.
type Planner struct{}

var _ LLMClient = (*Planner)(nil)

func NewPlanner() *Planner { return &Planner{} }

var (
	namePattern = regexp.MustCompile(`(?:deploy(?:\s+(?:the|my|service))*|service|for)\s+([a-z0-9][a-z0-9-]*)`)
	unsafeChars = regexp.MustCompile(`[^a-z0-9-]+`)
)

type toolOutcome struct {
	OK     bool            `json:"ok"`
	Output json.RawMessage `json:"output"`
	Error  *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Planner) Generate(ctx context.Context, messages []Message, _ *GenerationConfig, availableTools []tools.Tool) (*GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	last := messages[len(messages)-1]
	if last.Role != RoleTool {
		return p.plan(lastUserMessage(messages), availableTools), nil
	}

	// Collect the trailing batch of tool results.
	var batch []Message
	for i := len(messages) - 1; i >= 0 && messages[i].Role == RoleTool; i-- {
		batch = append([]Message{messages[i]}, batch...)
	}
	for _, m := range batch {
		var out toolOutcome
		if err := json.Unmarshal([]byte(m.Content), &out); err == nil && !out.OK && out.Error != nil {
			return &GenerationResult{Content: fmt.Sprintf("I could not finish: %s failed (%s): %s", m.Name, out.Error.Kind, out.Error.Message)}, nil
		}
	}

	switch batch[0].Name {
	case "provision_cluster":
		var cluster struct {
			ClusterName string `json:"clusterName"`
			Ready       bool   `json:"ready"`
			Status      string `json:"status"`
		}
		decodeOutput(batch[0].Content, &cluster)
		if !cluster.Ready {
			return &GenerationResult{Content: fmt.Sprintf("Cluster %s is %s. Ask me again in a few minutes to continue.", cluster.ClusterName, cluster.Status)}, nil
		}
		args, _ := json.Marshal(map[string]string{"clusterName": cluster.ClusterName})
		return &GenerationResult{ToolCalls: []*tools.ToolCall{NewToolCall("call_install", "install_gitops", string(args))}}, nil

	case "install_gitops":
		var install struct {
			ClusterName string            `json:"clusterName"`
			Namespace   string            `json:"namespace"`
			URLs        map[string]string `json:"urls"`
		}
		decodeOutput(batch[0].Content, &install)
		endpoint := findEndpoint(messages)
		keys := make([]string, 0, len(install.URLs))
		for k := range install.URLs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "Cluster %s is ready at %s. Argo is installed in namespace %s.", install.ClusterName, endpoint, install.Namespace)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s: %s", k, install.URLs[k])
		}
		return &GenerationResult{Content: b.String()}, nil

	case "evaluate_stability":
		var report struct {
			Summary string `json:"summary"`
		}
		decodeOutput(batch[0].Content, &report)
		return &GenerationResult{Content: report.Summary}, nil
	}
	return &GenerationResult{Content: "Done."}, nil
}

func (p *Planner) plan(request string, availableTools []tools.Tool) *GenerationResult {
	text := strings.ToLower(request)
	name := "sprout"
	if m := namePattern.FindStringSubmatch(text); m != nil {
		if n := strings.Trim(unsafeChars.ReplaceAllString(m[1], "-"), "-"); n != "" {
			name = n
		}
	}

	if strings.Contains(text, "stab") && hasTool(availableTools, "evaluate_stability") {
		args, _ := json.Marshal(map[string]string{"namespace": "default", "deploymentName": name})
		return &GenerationResult{ToolCalls: []*tools.ToolCall{NewToolCall("call_stability", "evaluate_stability", string(args))}}
	}
	if hasTool(availableTools, "provision_cluster") {
		args, _ := json.Marshal(map[string]string{"clusterName": name + "-ci"})
		return &GenerationResult{ToolCalls: []*tools.ToolCall{NewToolCall("call_cluster", "provision_cluster", string(args))}}
	}
	return &GenerationResult{Content: "I have no tools available for that request."}
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func hasTool(available []tools.Tool, name string) bool {
	for _, t := range available {
		if t.Function.Name == name {
			return true
		}
	}
	return false
}

func decodeOutput(content string, v any) {
	var out toolOutcome
	if json.Unmarshal([]byte(content), &out) == nil && out.OK {
		_ = json.Unmarshal(out.Output, v)
	}
}

// findEndpoint returns the endpoint reported by the latest provision_cluster result.
func findEndpoint(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleTool && messages[i].Name == "provision_cluster" {
			var cluster struct {
				Endpoint string `json:"endpoint"`
			}
			decodeOutput(messages[i].Content, &cluster)
			return cluster.Endpoint
		}
	}
	return "an unknown endpoint"
}
