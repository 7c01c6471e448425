package epub

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lamim/prosepress/internal/util"
)

// blockAtoms are elements that terminate a paragraph when walking the tree.
var blockAtoms = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Blockquote: true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Figcaption: true,
}

// extractText parses an XHTML content document and returns its first heading
// plus the document prose with paragraph breaks normalized to blank lines.
func extractText(data []byte) (title, text string) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", ""
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head:
				return
			case atom.Br:
				sb.WriteString("\n")
			}
			if title == "" && isHeading(n.DataAtom) {
				title = strings.TrimSpace(nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			sb.WriteString("\n\n")
		}
	}
	walk(root)

	return title, util.CollapseWhitespace(sb.String())
}

func isHeading(a atom.Atom) bool {
	switch a {
	case atom.H1, atom.H2, atom.H3:
		return true
	}
	return false
}

// nodeText returns the concatenated text content of a node's subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
