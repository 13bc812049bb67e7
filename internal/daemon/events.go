package daemon

import "strings"

// relevantEvents are the webhook names of the events that wake the team.
var relevantEvents = []string{"issues", "issue_comment", "pull_request"}

// IsRelevant reports whether an event type should trigger a launch. Webhook
// deliveries use snake_case ("issue_comment"), the events API uses
// PascalCase with an Event suffix ("IssueCommentEvent"); both are accepted.
func IsRelevant(eventType string) bool {
	t := strings.ToLower(strings.TrimSpace(eventType))
	if t == "" {
		return false
	}
	for _, name := range relevantEvents {
		compact := strings.ReplaceAll(name, "_", "")
		if t == name || t == compact || t == compact+"event" {
			return true
		}
	}
	return false
}
