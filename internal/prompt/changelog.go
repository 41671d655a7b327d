package prompt

import (
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// FlattenChangelog turns a markdown changelog into plain text lines suitable
// for a terminal prompt. List items are prefixed with "- "; formatting and
// link targets are dropped.
func FlattenChangelog(markdown string) string {
	source := []byte(markdown)
	root := goldmark.New().Parser().Parse(text.NewReader(source))

	var lines []string
	var cur strings.Builder
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		switch node := n.(type) {
		case *gmast.Heading, *gmast.Paragraph, *gmast.TextBlock:
			if entering {
				cur.Reset()
				return gmast.WalkContinue, nil
			}
			line := strings.TrimSpace(cur.String())
			if line == "" {
				return gmast.WalkContinue, nil
			}
			if _, ok := n.Parent().(*gmast.ListItem); ok {
				line = "- " + line
			}
			lines = append(lines, line)
		case *gmast.Text:
			if entering {
				cur.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte(' ')
				}
			}
		case *gmast.String:
			if entering {
				cur.Write(node.Value)
			}
		}
		return gmast.WalkContinue, nil
	})
	return strings.Join(lines, "\n")
}
