package dom

import (
	"strings"
	"unicode"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// styleDeclaration exposes an element's style attribute as a JS object.
// Properties use camelCase in script and kebab-case in markup.
type styleDeclaration struct {
	rt   *goja.Runtime
	doc  *Document
	node *html.Node
}

func (s *styleDeclaration) declarations() [][2]string {
	raw, _ := s.doc.GetAttribute(s.node, "style")
	var out [][2]string
	for _, decl := range strings.Split(raw, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name != "" {
			out = append(out, [2]string{name, value})
		}
	}
	return out
}

func (s *styleDeclaration) store(decls [][2]string) {
	parts := make([]string, 0, len(decls))
	for _, decl := range decls {
		parts = append(parts, decl[0]+": "+decl[1])
	}
	if len(parts) == 0 {
		s.doc.RemoveAttribute(s.node, "style")
		return
	}
	s.doc.SetAttribute(s.node, "style", strings.Join(parts, "; "))
}

func (s *styleDeclaration) Get(key string) goja.Value {
	if key == "cssText" {
		raw, _ := s.doc.GetAttribute(s.node, "style")
		return s.rt.ToValue(raw)
	}
	name := kebab(key)
	for _, decl := range s.declarations() {
		if decl[0] == name {
			return s.rt.ToValue(decl[1])
		}
	}
	return s.rt.ToValue("")
}

func (s *styleDeclaration) Set(key string, val goja.Value) bool {
	if key == "cssText" {
		s.doc.SetAttribute(s.node, "style", val.String())
		return true
	}

	name, value := kebab(key), val.String()
	decls := s.declarations()
	for i, decl := range decls {
		if decl[0] == name {
			if value == "" {
				decls = append(decls[:i], decls[i+1:]...)
			} else {
				decls[i][1] = value
			}
			s.store(decls)
			return true
		}
	}
	if value != "" {
		s.store(append(decls, [2]string{name, value}))
	}
	return true
}

func (s *styleDeclaration) Has(key string) bool {
	name := kebab(key)
	for _, decl := range s.declarations() {
		if decl[0] == name {
			return true
		}
	}
	return false
}

func (s *styleDeclaration) Delete(key string) bool {
	return s.Set(key, s.rt.ToValue(""))
}

func (s *styleDeclaration) Keys() []string {
	decls := s.declarations()
	keys := make([]string, 0, len(decls))
	for _, decl := range decls {
		keys = append(keys, camel(decl[0]))
	}
	return keys
}

// kebab converts backgroundColor to background-color
func kebab(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if unicode.IsUpper(r) {
			sb.WriteByte('-')
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// camel converts background-color to backgroundColor
func camel(name string) string {
	var sb strings.Builder
	upper := false
	for _, r := range name {
		if r == '-' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
