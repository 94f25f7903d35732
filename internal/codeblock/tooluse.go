package codeblock

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// ToolUse is a parsed invocation, independent of which wire form
// produced it (markdown codeblock, XML, or a native provider tool-call).
type ToolUse struct {
	Tool    string
	Args    []string
	Content string
	Kwargs  map[string]string
	CallID  string
}

// LangResolver maps an infostring's lang token to a registered tool
// name. It is satisfied by the tool registry; kept as a narrow function
// type here so this package never imports internal/tool.
type LangResolver func(lang string) (toolName string, ok bool)

// saveToolName is the one tool name with the filename-preserving special
// case in spec.md §4.2: `args = [original lang token]`.
const saveToolName = "save"

// ParseMarkdown extracts every outermost codeblock from text and maps
// the ones whose lang resolves to a registered tool into ToolUses.
func ParseMarkdown(text string, resolve LangResolver) []ToolUse {
	var out []ToolUse
	for _, cb := range Extract(text) {
		name, ok := resolve(cb.Lang)
		if !ok {
			continue
		}
		tu := ToolUse{
			Tool:    name,
			Content: cb.Content,
		}
		if name == saveToolName {
			tu.Args = []string{cb.Lang}
		} else if cb.Lang != "" {
			parts := strings.Fields(cb.Lang)
			if len(parts) > 1 {
				tu.Args = parts[1:]
			}
		}
		out = append(out, tu)
	}
	return out
}

// ToMarkdown renders a ToolUse back to its codeblock form. For the save
// tool, Args[0] (the original lang token/filename) is restored as the
// infostring instead of the tool name.
func (t ToolUse) ToMarkdown() string {
	lang := t.Tool
	if t.Tool == saveToolName && len(t.Args) > 0 {
		lang = t.Args[0]
	} else if len(t.Args) > 0 {
		lang = t.Tool + " " + strings.Join(t.Args, " ")
	}
	cb := Codeblock{Lang: lang, Content: t.Content}
	return cb.ToMarkdown()
}

// xmlToolUse is the wire shape of one child element inside <tool-use>.
type xmlRoot struct {
	XMLName xml.Name    `xml:"tool-use"`
	Tools   []xmlToolEl `xml:",any"`
}

type xmlToolEl struct {
	XMLName xml.Name
	Args    string `xml:"args,attr"`
	Content string `xml:",chardata"`
}

// ParseXML parses a `<tool-use>...</tool-use>` block into one ToolUse
// per child element.
func ParseXML(text string) ([]ToolUse, error) {
	var root xmlRoot
	if err := xml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("codeblock: parse xml tool-use: %w", err)
	}
	out := make([]ToolUse, 0, len(root.Tools))
	for _, el := range root.Tools {
		tu := ToolUse{
			Tool:    el.XMLName.Local,
			Content: strings.TrimSpace(el.Content),
		}
		if el.Args != "" {
			tu.Args = strings.Fields(el.Args)
		}
		out = append(out, tu)
	}
	return out, nil
}

// ToXML renders a ToolUse as a `<tool-use>` document with one child.
func (t ToolUse) ToXML() string {
	args := strings.Join(t.Args, " ")
	if args != "" {
		return fmt.Sprintf("<tool-use><%s args=%q>%s</%s></tool-use>", t.Tool, args, t.Content, t.Tool)
	}
	return fmt.Sprintf("<tool-use><%s>%s</%s></tool-use>", t.Tool, t.Content, t.Tool)
}

// NativeToolCall is the shape reported by an LLM adapter when the
// provider's own structured tool-call mechanism fired, independent of
// any particular SDK's representation.
type NativeToolCall struct {
	CallID string
	Name   string
	Input  json.RawMessage
}

// FromNative maps a provider-native tool-call directly into a ToolUse;
// the raw JSON arguments become the content (so the same downstream
// dispatch code handles all wire forms uniformly).
func FromNative(call NativeToolCall) ToolUse {
	return ToolUse{
		Tool:    call.Name,
		Content: string(call.Input),
		CallID:  call.CallID,
	}
}

// ToNativeChunk renders the synthetic streaming-chunk form the LLM
// adapter contract (spec.md §4.5) injects for native tool-calls:
// "\n@<toolname>(<call_id>): " followed by the JSON argument text.
func (t ToolUse) ToNativeChunk() string {
	return fmt.Sprintf("\n@%s(%s): %s", t.Tool, t.CallID, t.Content)
}

