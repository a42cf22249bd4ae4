package ingress

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cuemby/bgctl/pkg/types"
)

// markerPrefix starts the line recording which environment a rendered
// configuration routes to
const markerPrefix = "# bgctl: active="

// ErrNoMarker is returned when the live proxy configuration was not written by bgctl
var ErrNoMarker = errors.New("proxy configuration has no bgctl marker")

// DefaultTemplate renders one nginx upstream block per service
const DefaultTemplate = `# Managed by bgctl. Changes are overwritten on the next traffic switch.
{{- range $name, $addr := .Upstreams }}

upstream {{ $name | lower }} {
    server {{ $addr | trim }};
    keepalive {{ $.Keepalive | default 32 }};
}
{{- end }}
`

// TemplateData is passed to the upstream template
type TemplateData struct {
	Active    string
	Standby   string
	Upstreams map[string]string
	Keepalive int
}

func parseTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("upstreams").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy template: %w", err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data TemplateData) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%s\n", markerPrefix, data.Active)
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render proxy config for %s: %w", data.Active, err)
	}
	return buf.Bytes(), nil
}

// ReadMarker returns the environment recorded in the proxy configuration at path
func ReadMarker(path string) (types.Environment, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, markerPrefix) {
			continue
		}
		return types.ParseEnvironment(strings.TrimPrefix(line, markerPrefix))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return "", ErrNoMarker
}
