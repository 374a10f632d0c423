package chat

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const (
	// NewChatTitle is the title of a session that has no messages yet.
	NewChatTitle = "New Chat"

	attachmentTitle = "New Attachment"
	titleLimit      = 30
)

// deriveTitle names a session after its first message: the first 30
// characters of text, with "..." if truncated.
func deriveTitle(text string) string {
	if strings.TrimSpace(text) == "" {
		return attachmentTitle
	}
	r := []rune(text)
	if len(r) <= titleLimit {
		return text
	}
	return string(r[:titleLimit]) + "..."
}

// FitTitle truncates a title to the given display width for listings.
func FitTitle(title string, width int) string {
	return runewidth.Truncate(title, width, "…")
}

// Group is a labelled run of sessions in a listing.
type Group struct {
	Label    string
	Sessions []Session
}

const (
	GroupToday     = "Today"
	GroupYesterday = "Yesterday"
	GroupWeek      = "Previous 7 Days"
	GroupOlder     = "Older"
)

// GroupByDate buckets sessions by last update relative to now. Empty
// buckets are omitted; order within a bucket is preserved.
func GroupByDate(sessions []Session, now time.Time) []Group {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	weekAgo := today.AddDate(0, 0, -7)

	labels := []string{GroupToday, GroupYesterday, GroupWeek, GroupOlder}
	buckets := make(map[string][]Session, len(labels))
	for _, s := range sessions {
		t := s.UpdatedAt
		var label string
		switch {
		case !t.Before(today):
			label = GroupToday
		case !t.Before(yesterday):
			label = GroupYesterday
		case !t.Before(weekAgo):
			label = GroupWeek
		default:
			label = GroupOlder
		}
		buckets[label] = append(buckets[label], s)
	}

	var groups []Group
	for _, l := range labels {
		if len(buckets[l]) > 0 {
			groups = append(groups, Group{Label: l, Sessions: buckets[l]})
		}
	}
	return groups
}
