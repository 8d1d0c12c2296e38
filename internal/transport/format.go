package transport

import "strconv"

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }

// ParseChatTarget accepts either a numeric chat id ("-100123") or a channel
// username ("@channel"). A bare name gets the "@" prefix.
func ParseChatTarget(s string, threadID int) (ChatTarget, bool) {
	if s == "" {
		return ChatTarget{}, false
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ChatTarget{ChatID: id, ThreadID: threadID}, id != 0
	}
	if s[0] != '@' {
		s = "@" + s
	}
	return ChatTarget{Username: s, ThreadID: threadID}, len(s) > 1
}
