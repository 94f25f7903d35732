// Package codeblock extracts fenced code regions from assistant text and
// turns them into ToolUse invocations, per spec.md §4.2. Extraction
// follows the original gptme implementation's stack-based scanner (the
// spec's prose description of "push on open, pop when the stack has
// depth one" is ambiguous about genuinely nested same-language fences;
// the original's rule — a bare or differently-tagged fence line nests,
// a fence line that repeats the current top's infostring closes it — is
// what's implemented here and is what the round-trip property in
// spec.md §8 property 3 depends on).
package codeblock

import (
	"strings"
)

// Codeblock is a lexical record of one fenced region.
type Codeblock struct {
	Lang    string
	Content string
	Path    string
	Start   int
}

// IsFilename reports whether Lang looks like a path rather than a
// language tag (contains "." or "/"), matching the original's heuristic
// for when the "save" tool's filename-preserving special case applies.
func (c Codeblock) IsFilename() bool {
	return strings.Contains(c.Lang, ".") || strings.Contains(c.Lang, "/")
}

// ToMarkdown renders the block back to its fenced form.
func (c Codeblock) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("```")
	b.WriteString(c.Lang)
	b.WriteString("\n")
	b.WriteString(c.Content)
	b.WriteString("\n```")
	return b.String()
}

// ToXML renders the block in the `<codeblock>` wire form.
func (c Codeblock) ToXML() string {
	var b strings.Builder
	b.WriteString(`<codeblock lang="`)
	b.WriteString(c.Lang)
	b.WriteString(`" path="`)
	b.WriteString(c.Path)
	b.WriteString("\">\n")
	b.WriteString(c.Content)
	b.WriteString("\n</codeblock>")
	return b.String()
}

// FromMarkdown parses a single already-isolated fenced block (its first
// line is the infostring, stripped of the opening/closing fences).
func FromMarkdown(text string) Codeblock {
	trimmed := text
	if strings.HasPrefix(strings.TrimSpace(trimmed), "```") {
		trimmed = trimmed[strings.Index(trimmed, "```")+3:]
	}
	if strings.HasSuffix(strings.TrimSpace(trimmed), "```") {
		idx := strings.LastIndex(trimmed, "```")
		trimmed = trimmed[:idx]
	}
	lines := strings.SplitN(trimmed, "\n", 2)
	lang := strings.TrimSpace(lines[0])
	content := ""
	if len(lines) > 1 {
		content = lines[1]
	}
	cb := Codeblock{Lang: lang, Content: content}
	if cb.IsFilename() {
		cb.Path = cb.Lang
	}
	return cb
}

// Extract scans markdown text line-by-line and yields every outermost
// fenced codeblock it finds.
func Extract(markdown string) []Codeblock {
	var out []Codeblock
	if strings.Count(markdown, "```") < 2 {
		return out
	}

	lines := strings.Split(markdown, "\n")
	var stack []string
	var current []string
	offset := 0

	for _, line := range lines {
		startIdx := offset
		offset += len(line) + 1 // account for the split "\n"

		stripped := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(stripped, "```"):
			tag := stripped[3:]
			switch {
			case len(stack) == 0:
				// Opens a new outermost fence.
				stack = append(stack, tag)
				current = nil
				_ = startIdx
			case tag != "" && stack[len(stack)-1] != tag:
				// A nested fence with a distinct infostring: treated as
				// content, but tracked so its matching close doesn't
				// prematurely terminate the outer block.
				current = append(current, line)
				stack = append(stack, tag)
			default:
				// Closes the most recently opened fence.
				if len(stack) == 1 {
					cb := Codeblock{
						Lang:    stack[0],
						Content: strings.Join(current, "\n"),
						Start:   startIdx,
					}
					if cb.IsFilename() {
						cb.Path = cb.Lang
					}
					out = append(out, cb)
					current = nil
				} else {
					current = append(current, line)
				}
				stack = stack[:len(stack)-1]
			}
		case len(stack) > 0:
			current = append(current, line)
		}
	}
	return out
}
