package llm

// Window keeps at most limit of the most recent messages. The window never
// starts with an assistant turn, because several backends reject that.
func Window(msgs []Message, limit int) []Message {
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	for start < len(msgs) && msgs[start].Role != RoleUser {
		start++
	}
	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}
