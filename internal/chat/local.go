package chat

import "strings"

// LocalReply builds the reply used when no chat backend answered. lines are
// the canonical forms of the commands that were recognised.
func LocalReply(lines []string) string {
	if len(lines) == 0 {
		return "Sorry, I can only help with lights right now. " +
			"Try \"turn on kitchen\" or \"add light porch pin 21\"."
	}
	return strings.Join(lines, "\n")
}
