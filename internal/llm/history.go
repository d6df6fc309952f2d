package llm

import (
	"context"
	"fmt"
)

// DefaultMaxHistoryTokens is the conversation budget before compaction
// kicks in. Generated scripts land in history verbatim, so long sessions
// blow past small context windows quickly.
const DefaultMaxHistoryTokens = 6000

// estimateTokens returns an approximate token count for a message.
// Uses chars/4 heuristic — accurate enough for budget decisions.
func estimateTokens(m Message) int {
	tokens := len(m.Content) / 4
	// Minimum 1 token per message for role overhead
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// EstimateHistoryTokens returns approximate total tokens for a message slice.
func EstimateHistoryTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m)
	}
	return total
}

// findSplitPoint finds a clean boundary to split history into old and recent
// sections. It works backward from the end until recent messages fill the
// given token budget, then snaps to the start of a user message so a prompt
// is never separated from the script it produced. Index 0 (system prompt)
// is never included.
func findSplitPoint(messages []Message, recentTokenBudget int) int {
	if len(messages) <= 2 {
		return len(messages) // nothing to split
	}

	tokens := 0
	budgetExceeded := false
	splitIdx := len(messages)
	for i := len(messages) - 1; i >= 1; i-- {
		msgTokens := estimateTokens(messages[i])
		if tokens+msgTokens > recentTokenBudget {
			splitIdx = i + 1
			budgetExceeded = true
			break
		}
		tokens += msgTokens
	}

	if !budgetExceeded {
		return len(messages)
	}

	// Clamp: keep at least the last message
	if splitIdx >= len(messages) {
		splitIdx = len(messages) - 1
	}

	for splitIdx > 1 {
		if messages[splitIdx].Role == RoleUser {
			break
		}
		splitIdx--
	}

	// Must leave at least the system prompt + 1 message to summarize
	if splitIdx <= 1 || messages[splitIdx].Role != RoleUser {
		return len(messages)
	}

	return splitIdx
}

// summarizeMessages asks the model for a concise summary of older turns.
func summarizeMessages(ctx context.Context, client Client, messages []Message) (string, error) {
	var content string
	for _, m := range messages {
		content += fmt.Sprintf("[%s]: %s\n", m.Role, m.Content)
	}

	prompt := []Message{
		SystemMessage("You are a summarization assistant. Produce a concise summary of the following conversation excerpt. " +
			"Preserve the user's requirements and the important details of any scripts discussed. " +
			"Be concise but complete. Output only the summary, no preamble."),
		UserMessage("Summarize this conversation:\n\n" + content),
	}

	summary, err := client.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}

	const maxSummaryChars = 4000
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars] + "\n... (summary truncated)"
	}

	return summary, nil
}

// CompactHistory summarizes older messages when the conversation exceeds
// maxTokens, returning system prompt + summary + recent messages. If the
// summarization call fails it falls back to keeping the last few messages.
// Under budget, the input slice is returned unchanged.
func CompactHistory(ctx context.Context, client Client, messages []Message, maxTokens int) []Message {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxHistoryTokens
	}
	if EstimateHistoryTokens(messages) <= maxTokens {
		return messages
	}

	// Keep recent messages within 60% of budget
	recentBudget := maxTokens * 60 / 100
	splitIdx := findSplitPoint(messages, recentBudget)
	if splitIdx >= len(messages) {
		return messages
	}

	oldMessages := messages[1:splitIdx]
	if len(oldMessages) == 0 {
		return messages
	}

	summary, err := summarizeMessages(ctx, client, oldMessages)
	if err != nil {
		return trimHistory(messages, 10)
	}

	summaryMsg := SystemMessage("[Prior conversation summary]\n" + summary)
	compacted := make([]Message, 0, 2+len(messages)-splitIdx)
	compacted = append(compacted, messages[0])
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, messages[splitIdx:]...)
	return compacted
}

// trimHistory keeps the system prompt plus the last keep messages.
func trimHistory(messages []Message, keep int) []Message {
	if len(messages) <= keep+1 {
		return messages
	}
	trimmed := make([]Message, 0, keep+1)
	trimmed = append(trimmed, messages[0])
	trimmed = append(trimmed, messages[len(messages)-keep:]...)
	return trimmed
}
