// Package render substitutes {{placeholder}} tags in template text.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Render replaces every {{path}} in tpl with the payload value at path.
// Paths may be dotted to reach nested maps. Unknown paths are left as written.
// Render has no side effects and never fails.
func Render(tpl string, payload map[string]any) string {
	if !strings.Contains(tpl, startTag) {
		return tpl
	}

	return fasttemplate.ExecuteFuncString(tpl, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		value, ok := lookup(payload, strings.TrimSpace(tag))
		if !ok {
			return io.WriteString(w, startTag+tag+endTag)
		}
		return io.WriteString(w, format(value))
	})
}

// Message is a rendered subject and body pair.
type Message struct {
	Subject string
	Body    string
}

func RenderMessage(subject, body string, payload map[string]any) Message {
	return Message{
		Subject: Render(subject, payload),
		Body:    Render(body, payload),
	}
}

func lookup(payload map[string]any, path string) (any, bool) {
	if path == "" || payload == nil {
		return nil, false
	}
	if value, ok := payload[path]; ok {
		return value, true
	}

	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
