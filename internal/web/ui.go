package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/broker"
)

// rootAnchor is the element id the client script mounts into. The layout
// template must carry it or the dashboard cannot render anything.
const rootAnchor = `id="root"`

// viewRoutes maps each dashboard path to the template that fills the
// layout's content block. Paths not listed here still get the layout
// chrome, just with an empty content area.
var viewRoutes = map[string]string{
	"/":                 "landing.html",
	"/dashboard/dut":    "dashboard_dut.html",
	"/dashboard/tac":    "dashboard_tac.html",
	"/settings/labgrid": "settings_labgrid.html",
}

// ui renders the dashboard pages. Every page is the shared layout with
// one view template plugged into its content block, so navigation never
// changes the surrounding chrome.
type ui struct {
	views      map[string]*template.Template
	layoutOnly *template.Template
	broker     *broker.Broker
	interfaces []string
	log        *zap.Logger
}

func newUI(b *broker.Broker, interfaces []string, log *zap.Logger) (*ui, error) {
	layout, err := assetsFS.ReadFile("templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("web: read layout template: %w", err)
	}
	if !bytes.Contains(layout, []byte(rootAnchor)) {
		return nil, fmt.Errorf("web: layout template lacks the %s mount anchor", rootAnchor)
	}

	u := &ui{
		views:      make(map[string]*template.Template),
		broker:     b,
		interfaces: interfaces,
		log:        log,
	}

	funcs := template.FuncMap{
		"topic":       u.topicValue,
		"measurement": u.measurementValue,
	}

	u.layoutOnly, err = template.New("layout.html").Funcs(funcs).Parse(string(layout))
	if err != nil {
		return nil, fmt.Errorf("web: parse layout template: %w", err)
	}

	for path, view := range viewRoutes {
		tmpl, err := template.New("layout.html").Funcs(funcs).Parse(string(layout))
		if err != nil {
			return nil, fmt.Errorf("web: parse layout template: %w", err)
		}
		if _, err := tmpl.ParseFS(assetsFS, "templates/"+view); err != nil {
			return nil, fmt.Errorf("web: parse view template %s: %w", view, err)
		}
		u.views[path] = tmpl
	}

	return u, nil
}

// pageData is what every view template renders against.
type pageData struct {
	Path       string
	Interfaces []string
}

// topicValue returns the retained value of a topic for use in templates,
// or nil if the topic does not exist or has no value yet.
func (u *ui) topicValue(path string) any {
	topic, ok := u.broker.Lookup(path)
	if !ok || !topic.WebReadable() {
		return nil
	}
	payload, ok := topic.TryGetBytes()
	if !ok {
		return nil
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil
	}
	return value
}

// measurementValue formats the value field of a measurement topic with
// two decimals, or returns an empty string when no sample arrived yet.
func (u *ui) measurementValue(path string) string {
	value := u.topicValue(path)
	m, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	v, ok := m["value"].(float64)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%.2f", v)
}

func (u *ui) render(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	tmpl, ok := u.views[path]
	if !ok {
		tmpl = u.layoutOnly
	}

	var buf bytes.Buffer
	data := pageData{Path: path, Interfaces: u.interfaces}
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		u.log.Error("failed to render page", zap.String("path", path), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
