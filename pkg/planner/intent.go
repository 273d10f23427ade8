package planner

import (
	"regexp"
	"strings"
)

// actionIntentScore is returned when any action category matches.
const actionIntentScore = 0.7

// Action categories scanned over the task description. A match in any
// category means the task needs real tool execution rather than pure
// knowledge, which floors its complexity.
var actionCategories = map[string][]string{
	"browser": {
		"browse", "browser", "navigate", "open the page", "website", "web page",
		"url", "click", "scroll", "login", "log in", "search on", "google",
	},
	"media": {
		"play", "pause", "video", "music", "song", "youtube", "spotify", "volume",
	},
	"file": {
		"file", "folder", "directory", "save", "write to", "read the", "create a",
		"delete", "rename", "move", "copy", "download",
	},
	"shell": {
		"run", "execute", "command", "terminal", "shell", "script", "install",
	},
	"network": {
		"api", "http", "request", "fetch", "endpoint", "webhook", "post to",
	},
	"device": {
		"light", "thermostat", "device", "turn on", "turn off", "smart home",
	},
	"desktop": {
		"desktop", "window", "application", "launch", "screenshot", "type into",
	},
}

// Bare path references (C:\..., /home/..., ./file.txt) also signal action.
var pathPattern = regexp.MustCompile(`(?i)([a-z]:\\|/[a-z0-9_.-]+/|\./[a-z0-9_.-]+|~/)`)

// ActionIntent scans a task description for action-category tokens, each
// matched at the start of a word. It returns actionIntentScore when any
// category matches and 0 otherwise.
func ActionIntent(description string) float64 {
	lowered := strings.ToLower(description)

	for _, tokens := range actionCategories {
		for _, token := range tokens {
			if hasWordPrefix(lowered, token) {
				return actionIntentScore
			}
		}
	}
	if pathPattern.MatchString(description) {
		return actionIntentScore
	}
	return 0
}

// hasWordPrefix reports whether token occurs in s at the start of a word, so
// "api" matches "api key" but not "capital".
func hasWordPrefix(s, token string) bool {
	for i := 0; i+len(token) <= len(s); i++ {
		if !strings.HasPrefix(s[i:], token) {
			continue
		}
		if i == 0 || !(s[i-1] >= 'a' && s[i-1] <= 'z' || s[i-1] >= '0' && s[i-1] <= '9') {
			return true
		}
	}
	return false
}
