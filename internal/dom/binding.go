package dom

import (
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
)

// binder keeps one JS object per node so identity comparisons in script hold
type binder struct {
	rt      *goja.Runtime
	doc     *Document
	objects map[*html.Node]*goja.Object
	nodes   map[*goja.Object]*html.Node
}

// Bind installs the `document` global for doc on the context's runtime
func Bind(ec *engine.ExecutionContext, doc *Document) error {
	rt := ec.Context()
	if rt == nil {
		return engine.ErrInvalidContext
	}

	b := &binder{
		rt:      rt,
		doc:     doc,
		objects: make(map[*html.Node]*goja.Object),
		nodes:   make(map[*goja.Object]*html.Node),
	}

	document := rt.NewObject()
	methods := map[string]func(goja.FunctionCall) goja.Value{
		"createElement": func(call goja.FunctionCall) goja.Value {
			return b.wrap(doc.CreateElement(b.stringArg(call, 0)))
		},
		"createTextNode": func(call goja.FunctionCall) goja.Value {
			return b.wrap(doc.CreateTextNode(call.Argument(0).String()))
		},
		"getElementById": func(call goja.FunctionCall) goja.Value {
			return b.wrap(doc.ElementByID(b.stringArg(call, 0)))
		},
		"querySelector": func(call goja.FunctionCall) goja.Value {
			return b.wrap(doc.QueryFirst(nil, b.stringArg(call, 0)))
		},
		"querySelectorAll": func(call goja.FunctionCall) goja.Value {
			return b.wrapAll(doc.Query(nil, b.stringArg(call, 0)))
		},
		"getElementsByTagName": func(call goja.FunctionCall) goja.Value {
			return b.wrapAll(doc.ElementsByTagName(nil, b.stringArg(call, 0)))
		},
		"getElementsByClassName": func(call goja.FunctionCall) goja.Value {
			return b.wrapAll(doc.ElementsByClassName(nil, b.stringArg(call, 0)))
		},
		"xpath": func(call goja.FunctionCall) goja.Value {
			nodes, err := doc.XPath(nil, b.stringArg(call, 0))
			if err != nil {
				panic(rt.NewGoError(err))
			}
			return b.wrapAll(nodes)
		},
	}
	for name, fn := range methods {
		if err := document.Set(name, fn); err != nil {
			return err
		}
	}

	b.accessor(document, "documentElement", func() goja.Value { return b.wrap(doc.Root().FirstChild) }, nil)
	b.accessor(document, "head", func() goja.Value { return b.wrap(doc.Head()) }, nil)
	b.accessor(document, "body", func() goja.Value { return b.wrap(doc.Body()) }, nil)

	return rt.Set("document", document)
}

func (b *binder) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := b.objects[n]; ok {
		return obj
	}

	obj := b.rt.NewObject()
	b.objects[n] = obj
	b.nodes[obj] = n

	if n.Type == html.ElementNode {
		b.defineElement(obj, n)
	} else {
		b.defineNode(obj, n)
	}
	return obj
}

func (b *binder) wrapAll(nodes []*html.Node) goja.Value {
	items := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, b.wrap(n))
	}
	return b.rt.NewArray(items...)
}

func (b *binder) unwrap(v goja.Value) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		if n, ok := b.nodes[obj]; ok {
			return n
		}
	}
	panic(b.rt.NewTypeError("argument is not a node"))
}

// defineNode installs the members shared by every node type
func (b *binder) defineNode(obj *goja.Object, n *html.Node) {
	nodeType := 3
	switch n.Type {
	case html.ElementNode:
		nodeType = 1
	case html.CommentNode:
		nodeType = 8
	case html.DocumentNode:
		nodeType = 9
	}
	_ = obj.Set("nodeType", nodeType)

	b.accessor(obj, "nodeName", func() goja.Value {
		if n.Type == html.ElementNode {
			return b.rt.ToValue(strings.ToUpper(n.Data))
		}
		return b.rt.ToValue(describe(n))
	}, nil)
	b.accessor(obj, "textContent", func() goja.Value {
		return b.rt.ToValue(b.doc.Text(n))
	}, func(v goja.Value) {
		b.doc.SetText(n, v.String())
	})
	b.accessor(obj, "parentNode", func() goja.Value { return b.wrap(n.Parent) }, nil)
	b.accessor(obj, "firstChild", func() goja.Value { return b.wrap(n.FirstChild) }, nil)
	b.accessor(obj, "nextSibling", func() goja.Value { return b.wrap(n.NextSibling) }, nil)
	b.accessor(obj, "childNodes", func() goja.Value {
		var children []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, c)
		}
		return b.wrapAll(children)
	}, nil)

	if n.Type == html.TextNode {
		b.accessor(obj, "data", func() goja.Value { return b.rt.ToValue(n.Data) }, func(v goja.Value) {
			b.doc.SetText(n, v.String())
		})
	}
}

// defineElement installs element members on top of the node members
func (b *binder) defineElement(obj *goja.Object, n *html.Node) {
	b.defineNode(obj, n)

	_ = obj.Set("tagName", strings.ToUpper(n.Data))
	_ = obj.Set("style", b.rt.NewDynamicObject(&styleDeclaration{rt: b.rt, doc: b.doc, node: n}))

	for _, attr := range []struct{ prop, name string }{{"id", "id"}, {"className", "class"}} {
		name := attr.name
		b.accessor(obj, attr.prop, func() goja.Value {
			val, _ := b.doc.GetAttribute(n, name)
			return b.rt.ToValue(val)
		}, func(v goja.Value) {
			b.doc.SetAttribute(n, name, v.String())
		})
	}

	b.accessor(obj, "innerHTML", func() goja.Value {
		markup, err := b.doc.InnerHTML(n)
		if err != nil {
			panic(b.rt.NewGoError(err))
		}
		return b.rt.ToValue(markup)
	}, func(v goja.Value) {
		if err := b.doc.SetInnerHTML(n, v.String()); err != nil {
			panic(b.rt.NewGoError(err))
		}
	})
	b.accessor(obj, "children", func() goja.Value {
		var children []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				children = append(children, c)
			}
		}
		return b.wrapAll(children)
	}, nil)

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"getAttribute": func(call goja.FunctionCall) goja.Value {
			val, ok := b.doc.GetAttribute(n, strings.ToLower(b.stringArg(call, 0)))
			if !ok {
				return goja.Null()
			}
			return b.rt.ToValue(val)
		},
		"setAttribute": func(call goja.FunctionCall) goja.Value {
			b.doc.SetAttribute(n, b.stringArg(call, 0), call.Argument(1).String())
			return goja.Undefined()
		},
		"removeAttribute": func(call goja.FunctionCall) goja.Value {
			b.doc.RemoveAttribute(n, strings.ToLower(b.stringArg(call, 0)))
			return goja.Undefined()
		},
		"hasAttribute": func(call goja.FunctionCall) goja.Value {
			_, ok := b.doc.GetAttribute(n, strings.ToLower(b.stringArg(call, 0)))
			return b.rt.ToValue(ok)
		},
		"appendChild": func(call goja.FunctionCall) goja.Value {
			child := b.unwrap(call.Argument(0))
			if err := b.doc.AppendChild(n, child); err != nil {
				panic(b.rt.NewGoError(err))
			}
			return call.Argument(0)
		},
		"removeChild": func(call goja.FunctionCall) goja.Value {
			child := b.unwrap(call.Argument(0))
			if err := b.doc.RemoveChild(n, child); err != nil {
				panic(b.rt.NewGoError(err))
			}
			return call.Argument(0)
		},
		"querySelector": func(call goja.FunctionCall) goja.Value {
			return b.wrap(b.doc.QueryFirst(n, b.stringArg(call, 0)))
		},
		"querySelectorAll": func(call goja.FunctionCall) goja.Value {
			return b.wrapAll(b.doc.Query(n, b.stringArg(call, 0)))
		},
		"getElementsByTagName": func(call goja.FunctionCall) goja.Value {
			return b.wrapAll(b.doc.ElementsByTagName(n, b.stringArg(call, 0)))
		},
		"getElementsByClassName": func(call goja.FunctionCall) goja.Value {
			return b.wrapAll(b.doc.ElementsByClassName(n, b.stringArg(call, 0)))
		},
	}
	for name, fn := range methods {
		_ = obj.Set(name, fn)
	}
}

func (b *binder) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := b.rt.ToValue(func(goja.FunctionCall) goja.Value {
		return get()
	})
	var setter goja.Value
	if set != nil {
		setter = b.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// stringArg requires argument i to be present
func (b *binder) stringArg(call goja.FunctionCall, i int) string {
	arg := call.Argument(i)
	if goja.IsUndefined(arg) {
		panic(b.rt.NewTypeError("missing argument %d", i))
	}
	return arg.String()
}
