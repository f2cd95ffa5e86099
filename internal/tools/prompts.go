package tools

import (
	"fmt"
	"strings"
)

// toolPrompt renders the tool roster and calling convention appended to
// the caller's system instruction.
func toolPrompt(available []Tool) string {
	var sb strings.Builder
	sb.WriteString("\n\nYou may call external tools. To call one, include a directive of the form\n")
	sb.WriteString("TOOL_CALL:<name>:<json-arguments>\n")
	sb.WriteString("in your response, with the arguments as a single JSON object. ")
	sb.WriteString("If no tool is needed, answer directly.\n\nAvailable tools:\n")
	for _, t := range available {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

// resultsPrompt embeds labeled tool results and asks for the final
// answer.
func resultsPrompt(results []toolResult) string {
	var sb strings.Builder
	sb.WriteString("Tool results:\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "[%s]\n%s\n", r.name, r.output)
	}
	sb.WriteString("\nUsing these results, write the final answer for the user. ")
	sb.WriteString("Do not mention the tools or emit further TOOL_CALL directives.")
	return sb.String()
}

// correctionPrompt asks the model to repair one failed call.
func correctionPrompt(call Call, callErr error) string {
	return fmt.Sprintf(
		"The tool call %s%s:%s failed with error:\n%s\n\n"+
			"Emit a corrected TOOL_CALL directive, or reply with exactly %s if the call cannot be fixed.",
		Marker, call.Name, call.Raw, callErr, GiveUpMarker,
	)
}
