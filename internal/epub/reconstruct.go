package epub

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ApplyRewrites replaces the prose of content documents with rewritten text,
// keyed by unit ID. Paragraph text is mapped onto existing <p> nodes in
// document order; surplus rewritten paragraphs are appended to the body and
// surplus <p> nodes are emptied but kept, so images, headings and layout
// elements stay exactly where they were. A unit with no rewrite, an empty
// rewrite, or a parse failure is left byte-for-byte unchanged.
func (d *Document) ApplyRewrites(byID map[string]string) {
	for _, u := range d.units {
		rewritten, ok := byID[u.id]
		if !ok || strings.TrimSpace(rewritten) == "" {
			continue
		}

		updated, err := replaceParagraphs(d.entries[u.entryIdx].data, rewritten)
		if err != nil {
			d.logger.Warn("Keeping original content for unit",
				"unit_id", u.id,
				"href", u.href,
				"error", err)
			continue
		}
		d.entries[u.entryIdx].data = updated
	}
}

func replaceParagraphs(data []byte, rewritten string) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	paragraphs := splitParagraphs(rewritten)

	body := findElement(root, atom.Body)
	if body == nil {
		body = root
	}

	pNodes := collectParagraphNodes(body)
	idx := 0
	for _, p := range pNodes {
		clearChildren(p)
		if idx < len(paragraphs) {
			p.AppendChild(&html.Node{Type: html.TextNode, Data: paragraphs[idx]})
			idx++
		}
	}
	for ; idx < len(paragraphs); idx++ {
		p := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.P,
			Data:     "p",
		}
		p.AppendChild(&html.Node{Type: html.TextNode, Data: paragraphs[idx]})
		body.AppendChild(p)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// splitParagraphs breaks rewritten prose on blank lines. Text without blank
// lines becomes a single paragraph.
func splitParagraphs(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		if p := strings.TrimSpace(text); p != "" {
			out = []string{p}
		}
	}
	return out
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func collectParagraphNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.P {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func clearChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
