package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

const reloadDelay = 500 * time.Millisecond

// Templates holds the parsed page templates. An override directory, when
// set, replaces the embedded set and can be watched for changes.
type Templates struct {
	dir     string
	logger  *telemetry.Logger
	current atomic.Pointer[template.Template]
}

// LoadTemplates parses the embedded templates, or the .html files in dir
// when dir is not empty.
func LoadTemplates(dir string, logger *telemetry.Logger) (*Templates, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	t := &Templates{dir: dir, logger: logger}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

var funcMap = template.FuncMap{
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"pct":   func(d decimal.Decimal) string { return d.StringFixed(2) + "%" },
	"signed": func(d decimal.Decimal) string {
		if d.IsPositive() {
			return "+" + d.StringFixed(2)
		}
		return d.StringFixed(2)
	},
}

func (t *Templates) reload() error {
	var (
		tmpl *template.Template
		err  error
	)
	if t.dir != "" {
		tmpl, err = parseDir(t.dir)
	} else {
		tmpl, err = parseFS(embeddedTemplates, "templates")
	}
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	t.current.Store(tmpl)
	return nil
}

func parseFS(fsys fs.FS, root string) (*template.Template, error) {
	tmpl := template.New("").Funcs(funcMap)

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

func parseDir(dir string) (*template.Template, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return parseFS(os.DirFS(dir), ".")
}

// Render executes the named page into w. Output is buffered so a template
// error never leaves a half written page.
func (t *Templates) Render(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := t.current.Load().ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Watch reloads the override directory on changes until ctx is done. A
// reload that fails to parse keeps the previous templates. It is a no-op
// for the embedded set.
func (t *Templates) Watch(ctx context.Context) error {
	if t.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(t.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", t.dir, err)
	}

	t.logger.Zerolog().Info().Str("dir", t.dir).Msg("Watching templates for changes")

	go t.processEvents(ctx, watcher)
	return nil
}

func (t *Templates) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".html" {
				continue
			}

			t.logger.Zerolog().Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Template changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := t.reload(); err != nil {
					t.logger.WithError(err).Error("Failed to reload templates")
					return
				}
				t.logger.Info("Templates reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.WithError(err).Error("Template watcher error")
		}
	}
}
