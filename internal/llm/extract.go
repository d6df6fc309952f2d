package llm

import "strings"

// ExtractSource pulls runnable Python out of a model reply. Fenced code
// blocks are preferred; multiple blocks concatenate in order, since models
// often split one script across several fences. A fence left open at the
// end of the reply is taken to its end. A reply with no fences at all is
// assumed to be bare code.
func ExtractSource(reply string) string {
	lines := strings.Split(reply, "\n")

	var blocks []string
	var current []string
	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inBlock {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
				inBlock = false
			} else {
				inBlock = true
			}
			continue
		}
		if inBlock {
			current = append(current, line)
		}
	}
	// Unterminated fence: the model ran out of tokens mid-block.
	if inBlock && len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}

	if len(blocks) > 0 {
		return strings.TrimSpace(strings.Join(blocks, "\n\n")) + "\n"
	}

	bare := strings.TrimSpace(reply)
	if bare == "" {
		return ""
	}
	if looksLikeProse(bare) {
		return "# No Python code was generated.\n# Please try rephrasing your request or use /refine to ask for actual code.\n"
	}
	return bare + "\n"
}

// looksLikeProse reports whether an unfenced reply is markdown explanation
// rather than code, counting prose-shaped lines against code-shaped ones.
func looksLikeProse(text string) bool {
	codeLines := 0
	textLines := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "##"),
			strings.HasPrefix(trimmed, "#") && !strings.Contains(trimmed, "=") && !strings.Contains(trimmed, "import"),
			strings.HasPrefix(trimmed, "Here is"),
			strings.HasPrefix(trimmed, "Step "),
			strings.HasPrefix(trimmed, "The "),
			strings.Contains(trimmed, "code for"):
			textLines++
		case strings.Contains(trimmed, "def "),
			strings.Contains(trimmed, "class "),
			strings.Contains(trimmed, "import "),
			strings.Contains(trimmed, "="),
			strings.Contains(trimmed, "(") && strings.Contains(trimmed, ")"):
			codeLines++
		}
	}

	return textLines > codeLines || codeLines == 0
}
