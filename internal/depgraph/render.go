package depgraph

import "strings"

// Render draws the discovered graph. Superseded versions point at the
// winner with "->"; repeats of an already drawn id end in "(*)".
func Render(roots []*Node, resolved map[string]*Node) string {
	var sb strings.Builder
	visited := make(map[string]bool)
	for _, root := range roots {
		sb.WriteString("  - ")
		renderNode(&sb, "     ", root, visited, resolved)
	}
	return sb.String()
}

func renderNode(sb *strings.Builder, indent string, n *Node, visited map[string]bool, resolved map[string]*Node) {
	sb.WriteString(n.ID)
	sb.WriteByte(' ')
	sb.WriteString(n.Version)
	if latest, ok := resolved[n.ID]; ok && latest != n {
		sb.WriteString(" -> ")
		sb.WriteString(latest.Version)
		sb.WriteByte('\n')
		return
	}
	if visited[n.ID] {
		sb.WriteString(" (*)\n")
		return
	}
	visited[n.ID] = true
	sb.WriteByte('\n')

	last := len(n.Children) - 1
	for i, c := range n.Children {
		if i < last {
			sb.WriteString(indent + "|-- ")
			renderNode(sb, indent+"|    ", c, visited, resolved)
		} else {
			sb.WriteString(indent + "\\-- ")
			renderNode(sb, indent+"     ", c, visited, resolved)
		}
	}
}
