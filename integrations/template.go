package integrations

import (
	"strconv"
	"strings"
)

// DefaultTemplate is the chat reply used when a channel has no override.
const DefaultTemplate = "Timestamped (with a -{delay}s delay) by {user}{title_part}. " +
	"All timestamps get commented after the stream ends. Tool used: {tool_used}"

// DefaultTool names the product in replies.
const DefaultTool = "Tsnip"

// Vars are the values a reply template may reference.
type Vars struct {
	Delay    int
	User     string
	Message  string
	ToolUsed string
}

// Render expands {delay}, {user}, {msg}, {title_part} and {tool_used}.
// {title_part} is ` "<msg>"` when there is a message and empty otherwise.
func Render(tpl string, v Vars) string {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	tool := v.ToolUsed
	if tool == "" {
		tool = DefaultTool
	}
	titlePart := ""
	if v.Message != "" {
		titlePart = ` "` + v.Message + `"`
	}
	return strings.NewReplacer(
		"{delay}", strconv.Itoa(v.Delay),
		"{user}", v.User,
		"{msg}", v.Message,
		"{title_part}", titlePart,
		"{tool_used}", tool,
	).Replace(tpl)
}
