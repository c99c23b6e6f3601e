package notifier

import (
	"fmt"
	"html"
	"strings"

	"recurplan/internal/eventbus"
)

const dayLayout = "Mon 2 Jan 2006"

// Format turns a bus event into a message. Events the notifier does not
// report return false.
func Format(e eventbus.Event) (Notification, bool) {
	g, ok := e.Data.(eventbus.Generation)
	if !ok {
		return Notification{}, false
	}
	name := html.EscapeString(firstNonEmpty(g.TemplateName, g.TemplateID))

	switch e.Type {
	case eventbus.GenerationCompleted:
		var b strings.Builder
		fmt.Fprintf(&b, "Project <b>%s</b> generated from %s", html.EscapeString(g.ProjectName), name)
		if !g.StartDate.IsZero() {
			fmt.Fprintf(&b, ": %s to %s", g.StartDate.Format(dayLayout), g.EndDate.Format(dayLayout))
		}
		fmt.Fprintf(&b, ", %d %s", g.Tasks, plural(g.Tasks, "task", "tasks"))
		if g.Mode != "" && g.Mode != "automatic" {
			fmt.Fprintf(&b, " (%s)", g.Mode)
		}
		return Notification{Text: b.String(), Priority: 5}, true
	case eventbus.GenerationFailed:
		return Notification{
			Text:     fmt.Sprintf("Generation failed for <b>%s</b>: %s", name, html.EscapeString(g.Error)),
			Priority: 7,
		}, true
	case eventbus.TemplateExhausted:
		return Notification{
			Text:     fmt.Sprintf("Template <b>%s</b> reached its end date and was deactivated", name),
			Priority: 7,
		}, true
	default:
		return Notification{}, false
	}
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
