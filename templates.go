package main

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"sync"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

// EmbeddedTemplates returns the templates compiled into the binary
func EmbeddedTemplates() fs.FS {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Templates holds parsed templates
type Templates struct {
	fsys  fs.FS
	cache map[string]*template.Template
	mu    sync.RWMutex
	funcs template.FuncMap
	// reload skips the cache so edits show up without a restart
	reload bool
}

// NewTemplates creates a new template manager reading from fsys
func NewTemplates(fsys fs.FS, reload bool) *Templates {
	return &Templates{
		fsys:   fsys,
		cache:  make(map[string]*template.Template),
		reload: reload,
		funcs: template.FuncMap{
			"bucketLabel": FormatBucketLabel,
			"photoCount":  formatPhotoCount,
			"formatTime":  formatTime,
		},
	}
}

// Render renders a template to the writer
func (t *Templates) Render(w io.Writer, name string, data any) error {
	tmpl, err := t.get(name)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, data)
}

// get retrieves or parses a template
func (t *Templates) get(name string) (*template.Template, error) {
	if t.reload {
		return t.parse(name)
	}

	t.mu.RLock()
	tmpl, ok := t.cache[name]
	t.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if tmpl, ok := t.cache[name]; ok {
		return tmpl, nil
	}

	tmpl, err := t.parse(name)
	if err != nil {
		return nil, err
	}
	t.cache[name] = tmpl
	return tmpl, nil
}

func (t *Templates) parse(name string) (*template.Template, error) {
	content, err := fs.ReadFile(t.fsys, name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Funcs(t.funcs).Parse(string(content))
}

// Template helper functions

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 MST")
}
