package convo

import "github.com/kilnai/kiln/internal/codeblock"

// lastCodeblock extracts the last fenced codeblock's content from text,
// if any.
func lastCodeblock(text string) (string, bool) {
	blocks := codeblock.Extract(text)
	if len(blocks) == 0 {
		return "", false
	}
	return blocks[len(blocks)-1].Content, true
}
