package dom

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrNotAChild    = errors.New("node is not a child of this parent")
	ErrHierarchy    = errors.New("node cannot be inserted here")
	ErrInputTooLong = errors.New("markup exceeds maximum size")
)

// Config defines document configuration
type Config struct {
	MaxHTMLSize int  // Maximum markup accepted by Parse, 0 disables the limit
	Sanitize    bool // Run markup through the UGC sanitizer before parsing
}

// DefaultConfig returns the default document configuration
func DefaultConfig() Config {
	return Config{
		MaxHTMLSize: 10 * 1024 * 1024,
		Sanitize:    false,
	}
}

// Change represents a document modification
type Change struct {
	Type     string      `json:"type"`     // append_child, set_attribute, set_text, ...
	Target   string      `json:"target"`   // tag#id.class of the affected node
	Property string      `json:"property"` // attribute or property name
	Value    interface{} `json:"value"`    // new value
}

// Document is the page-owned node tree that markup is parsed into and that
// scripts see as `document`
type Document struct {
	mu      sync.RWMutex
	config  Config
	root    *html.Node
	head    *html.Node
	body    *html.Node
	changes []Change
}

// NewDocument creates an empty html/head/body document
func NewDocument(config Config) *Document {
	root := &html.Node{Type: html.DocumentNode}
	htmlNode := newElement("html")
	head := newElement("head")
	body := newElement("body")

	root.AppendChild(htmlNode)
	htmlNode.AppendChild(head)
	htmlNode.AppendChild(body)

	return &Document{
		config:  config,
		root:    root,
		head:    head,
		body:    body,
		changes: []Change{},
	}
}

// Root returns the document node
func (d *Document) Root() *html.Node { return d.root }

// Head returns the head element
func (d *Document) Head() *html.Node { return d.head }

// Body returns the body element
func (d *Document) Body() *html.Node { return d.body }

// CreateElement creates a detached element
func (d *Document) CreateElement(tag string) *html.Node {
	return newElement(strings.ToLower(tag))
}

// CreateTextNode creates a detached text node
func (d *Document) CreateTextNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// AppendChild moves child under parent, detaching it from any previous parent
func (d *Document) AppendChild(parent, child *html.Node) error {
	if parent == nil || child == nil || parent.Type == html.TextNode || isAncestor(child, parent) {
		return ErrHierarchy
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	d.record("append_child", parent, "", describe(child))
	return nil
}

// RemoveChild detaches child from parent
func (d *Document) RemoveChild(parent, child *html.Node) error {
	if parent == nil || child == nil || child.Parent != parent {
		return ErrNotAChild
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	parent.RemoveChild(child)
	d.record("remove_child", parent, "", describe(child))
	return nil
}

// GetAttribute retrieves an attribute value
func (d *Document) GetAttribute(n *html.Node, name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

// SetAttribute sets an attribute value and records the change
func (d *Document) SetAttribute(n *html.Node, name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToLower(name)
	for i, attr := range n.Attr {
		if attr.Key == name {
			n.Attr[i].Val = value
			d.record("set_attribute", n, name, value)
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	d.record("set_attribute", n, name, value)
}

// RemoveAttribute deletes an attribute
func (d *Document) RemoveAttribute(n *html.Node, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	attrs := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Key != name {
			attrs = append(attrs, attr)
		}
	}
	n.Attr = attrs
	d.record("remove_attribute", n, name, nil)
}

// Text returns the concatenated text of n and its descendants
func (d *Document) Text(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	collectText(n, &sb)
	return sb.String()
}

// SetText replaces the children of n with a single text node
func (d *Document) SetText(n *html.Node, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n.Type == html.TextNode {
		n.Data = text
	} else {
		removeChildren(n)
		if text != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
	}
	d.record("set_text", n, "textContent", text)
}

// InnerHTML renders the children of n
func (d *Document) InnerHTML(n *html.Node) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// SetInnerHTML replaces the children of n with parsed markup
func (d *Document) SetInnerHTML(n *html.Node, markup string) error {
	if n.Type != html.ElementNode {
		return ErrHierarchy
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	removeChildren(n)
	for _, child := range nodes {
		n.AppendChild(child)
	}
	d.record("set_inner_html", n, "innerHTML", markup)
	return nil
}

// HTML renders the whole document
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Changes returns accumulated document changes
func (d *Document) Changes() []Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Change{}, d.changes...)
}

// ResetChanges clears the change log and returns what it held
func (d *Document) ResetChanges() []Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	changes := d.changes
	d.changes = []Change{}
	return changes
}

// record must be called with d.mu held
func (d *Document) record(kind string, n *html.Node, property string, value interface{}) {
	d.changes = append(d.changes, Change{
		Type:     kind,
		Target:   describe(n),
		Property: property,
		Value:    value,
	})
}

func newElement(tag string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
}

// describe renders a short tag#id.class label for logs and change records
func describe(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return "#text"
	case html.DocumentNode:
		return "#document"
	case html.ElementNode:
	default:
		return "#node"
	}

	label := n.Data
	for _, attr := range n.Attr {
		switch attr.Key {
		case "id":
			label += "#" + attr.Val
		case "class":
			for _, class := range strings.Fields(attr.Val) {
				label += "." + class
			}
		}
	}
	return label
}

func isAncestor(candidate, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func collectText(n *html.Node, sb *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			collectText(c, sb)
		}
	}
}
