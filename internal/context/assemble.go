package context

import (
	"fmt"
	"strings"
	"time"

	"github.com/kilnai/kiln/internal/codeblock"
	"github.com/kilnai/kiln/internal/message"
)

// AssembleOptions configures one prompt assembly pass.
type AssembleOptions struct {
	Model            ModelInfo
	Estimate         Estimator
	FreshContext     string // pre-built via BuildFreshContext; empty disables (b)
	ReadFile         func(path string) (string, error)
	FileModifiedTime func(path string) (time.Time, bool)
}

// reductionRatio is spec.md §4.4d's "0.9 × context" threshold.
const reductionRatio = 0.9

// reductionContextLines is how many leading/trailing lines a truncated
// codeblock keeps (spec.md §4.4d: "first 10 and last 10 lines").
const reductionContextLines = 10

// Assemble builds the final prompt message list from log, applying
// steps (a)-(e) of spec.md §4.4 in order.
func Assemble(log []message.Message, opts AssembleOptions) []message.Message {
	estimate := opts.Estimate
	if estimate == nil {
		estimate = DefaultEstimator
	}

	msgs := append([]message.Message(nil), log...)
	msgs = inlineFiles(msgs, opts.ReadFile, opts.FileModifiedTime)

	if opts.FreshContext != "" {
		msgs = insertFreshContext(msgs, opts.FreshContext)
	}

	msgs = reduce(msgs, opts.Model, estimate)
	msgs = limit(msgs, opts.Model, estimate)
	return msgs
}

// leadingSystemCount returns how many messages at the start of msgs are
// system messages (spec.md §4.4a: "starts with all leading system
// messages").
func leadingSystemCount(msgs []message.Message) int {
	n := 0
	for n < len(msgs) && msgs[n].Role == message.RoleSystem {
		n++
	}
	return n
}

// insertFreshContext inserts a synthesized system message immediately
// before the latest user message, replacing any fresh-context message
// already in that position so re-running assembly without new user
// input is idempotent (spec.md §8's "Fresh-context inclusion" property).
func insertFreshContext(msgs []message.Message, body string) []message.Message {
	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser < 0 {
		return msgs
	}

	fresh := message.New(message.RoleSystem, body, msgs[lastUser].Timestamp)
	fresh.Hide = true
	fresh.Quiet = true

	if lastUser > 0 && msgs[lastUser-1].Role == message.RoleSystem && msgs[lastUser-1].Hide && isFreshContextBody(msgs[lastUser-1].Content) {
		out := append([]message.Message(nil), msgs[:lastUser-1]...)
		out = append(out, fresh)
		out = append(out, msgs[lastUser:]...)
		return out
	}

	out := append([]message.Message(nil), msgs[:lastUser]...)
	out = append(out, fresh)
	out = append(out, msgs[lastUser:]...)
	return out
}

func isFreshContextBody(content string) bool {
	return strings.HasPrefix(content, "Current working directory:")
}

// inlineFiles renders attached-file contents as fenced codeblocks
// tagged with the display path, appended to each message whose Files
// is set. If a file was modified after the message's timestamp, the
// inline content is replaced by the modified-after marker.
func inlineFiles(msgs []message.Message, readFile func(string) (string, error), modTime func(string) (time.Time, bool)) []message.Message {
	if readFile == nil {
		return msgs
	}
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	for i, m := range out {
		if len(m.Files) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(m.Content)
		for _, f := range m.Files {
			b.WriteString("\n\n")
			if modTime != nil {
				if mt, ok := modTime(f); ok && mt.After(m.Timestamp) {
					fmt.Fprintf(&b, "```%s\n<file was modified after message>\n```", f)
					continue
				}
			}
			content, err := readFile(f)
			if err != nil {
				fmt.Fprintf(&b, "```%s\n<file could not be read: %v>\n```", f, err)
				continue
			}
			fmt.Fprintf(&b, "```%s\n%s\n```", f, content)
		}
		out[i].Content = b.String()
	}
	return out
}

// reduce implements spec.md §4.4d: while estimated tokens exceed
// 0.9×context, repeatedly truncate the longest non-pinned message's
// codeblocks to their first/last N lines, stopping when a pass makes
// no further progress.
func reduce(msgs []message.Message, model ModelInfo, estimate Estimator) []message.Message {
	if model.Context <= 0 {
		return msgs
	}
	threshold := int(float64(model.Context) * reductionRatio)

	out := append([]message.Message(nil), msgs...)
	for estimate(out, model) > threshold {
		idx, progressed := truncateLongestCodeblock(out)
		if !progressed {
			break
		}
		_ = idx
	}
	return out
}

// truncateLongestCodeblock finds the longest non-pinned message and
// shortens its codeblocks; returns false if no message had a codeblock
// left to shorten.
func truncateLongestCodeblock(msgs []message.Message) (int, bool) {
	longest := -1
	longestLen := -1
	for i, m := range msgs {
		if m.Pinned {
			continue
		}
		if len(m.Content) > longestLen && hasShortenableCodeblock(m.Content) {
			longest = i
			longestLen = len(m.Content)
		}
	}
	if longest < 0 {
		return 0, false
	}
	msgs[longest].Content = truncateCodeblocks(msgs[longest].Content)
	return longest, true
}

func hasShortenableCodeblock(content string) bool {
	for _, cb := range codeblock.Extract(content) {
		lines := strings.Split(cb.Content, "\n")
		if len(lines) > 2*reductionContextLines+1 {
			return true
		}
	}
	return false
}

// truncateCodeblocks rewrites every codeblock in content whose body
// exceeds 2*N+1 lines down to its first N and last N lines, joined by
// "[...]".
func truncateCodeblocks(content string) string {
	blocks := codeblock.Extract(content)
	if len(blocks) == 0 {
		return content
	}
	result := content
	for _, cb := range blocks {
		lines := strings.Split(cb.Content, "\n")
		if len(lines) <= 2*reductionContextLines+1 {
			continue
		}
		truncated := strings.Join(lines[:reductionContextLines], "\n") +
			"\n[...]\n" +
			strings.Join(lines[len(lines)-reductionContextLines:], "\n")
		original := cb.ToMarkdown()
		shortCb := codeblock.Codeblock{Lang: cb.Lang, Content: truncated}
		result = strings.Replace(result, original, shortCb.ToMarkdown(), 1)
	}
	return result
}

// limit implements spec.md §4.4e: walk the log in reverse, accumulating
// until tokens exceed the model's context, then drop the message that
// tipped over, always keeping the leading system messages.
func limit(msgs []message.Message, model ModelInfo, estimate Estimator) []message.Message {
	if model.Context <= 0 || estimate(msgs, model) <= model.Context {
		return msgs
	}

	leading := leadingSystemCount(msgs)
	kept := make([]message.Message, 0, len(msgs))
	kept = append(kept, msgs[:leading]...)

	var tail []message.Message
	for i := len(msgs) - 1; i >= leading; i-- {
		candidate := append([]message.Message{msgs[i]}, tail...)
		probe := append(append([]message.Message(nil), kept...), candidate...)
		if estimate(probe, model) > model.Context && len(tail) > 0 {
			break
		}
		tail = candidate
	}
	return append(kept, tail...)
}
