package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

// TurnContext carries everything a model-backed capability needs to reason
// about the current turn. Fields that do not apply to a capability are left
// empty and omitted from the rendered prompt.
type TurnContext struct {
	Text    string
	Intent  Intent
	Phase   Phase
	Allowed []Intent
	Missing []SlotBrief
	Filled  map[string]string
}

func formatMissingSlotsSection(slots []SlotBrief) string {
	if len(slots) == 0 {
		return ""
	}
	var buf strings.Builder
	buf.WriteString("# Missing slots:\n")
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Slot", "Type", "Description", "Required")
	for _, slot := range slots {
		desc := slot.Description
		if desc == "" {
			desc = slot.DisplayName
		}
		_ = table.Append(slot.Name, slot.Type, desc, fmt.Sprintf("%t", slot.Required))
	}
	_ = table.Render()
	return buf.String()
}

func formatAllowedIntentsSection(intents []Intent) string {
	if len(intents) == 0 {
		return ""
	}
	names := make([]string, 0, len(intents))
	for _, it := range intents {
		names = append(names, string(it))
	}
	return fmt.Sprintf("# Allowed intents:\n%s", strings.Join(names, ", "))
}

// FormatTurnContext renders the turn context as a markdown prompt body.
func FormatTurnContext(c *TurnContext) (string, error) {
	sections := []string{
		fmt.Sprintf("# Current Date:\n%s", time.Now().Format(time.RFC3339)),
	}
	if s := formatAllowedIntentsSection(c.Allowed); s != "" {
		sections = append(sections, s)
	}
	if c.Intent != "" {
		sections = append(sections, fmt.Sprintf("# Locked intent:\n%s", c.Intent))
	}
	if c.Phase != "" {
		sections = append(sections, fmt.Sprintf("# Current phase:\n%s", c.Phase))
	}
	if len(c.Filled) > 0 {
		filledJSON, err := sonic.MarshalString(c.Filled)
		if err != nil {
			return "", err
		}
		sections = append(sections, fmt.Sprintf("# Filled slots JSON:\n```json\n%s\n```", filledJSON))
	}
	if s := formatMissingSlotsSection(c.Missing); s != "" {
		sections = append(sections, s)
	}
	if c.Text != "" {
		sections = append(sections, fmt.Sprintf("# Latest user message:\n%s", c.Text))
	}
	return strings.Join(sections, "\n\n"), nil
}
