package template

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders argument templates for command actions. Templates use
// text/template syntax with the sprig function library, e.g.
//
//	{{ .percent }}%
//	{{ .scheme | quote }}
//	{{ .layout | splitList "," | first }}
//
// Parsed templates are cached; an Engine is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*template.Template
	funcs template.FuncMap
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		cache: make(map[string]*template.Template),
		funcs: sprig.TxtFuncMap(),
	}
}

// Render expands one template. Referencing a variable that is not in data
// is an error.
func (e *Engine) Render(text string, data map[string]string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := e.parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %q: %w", text, err)
	}
	return buf.String(), nil
}

// RenderArgv expands every element of argv.
func (e *Engine) RenderArgv(argv []string, data map[string]string) ([]string, error) {
	out := make([]string, len(argv))
	for i, arg := range argv {
		rendered, err := e.Render(arg, data)
		if err != nil {
			return nil, fmt.Errorf("error at argument %d: %w", i, err)
		}
		out[i] = rendered
	}
	return out, nil
}

// Validate parses every element of argv without rendering it, so broken
// templates are reported at startup instead of at first use.
func (e *Engine) Validate(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	for i, arg := range argv {
		if !strings.Contains(arg, "{{") {
			continue
		}
		if _, err := e.parse(arg); err != nil {
			return fmt.Errorf("error at argument %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) parse(text string) (*template.Template, error) {
	e.mu.RLock()
	tmpl, ok := e.cache[text]
	e.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("arg").Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", text, err)
	}

	e.mu.Lock()
	e.cache[text] = tmpl
	e.mu.Unlock()
	return tmpl, nil
}
