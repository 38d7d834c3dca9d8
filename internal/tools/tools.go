// Package tools maps capture tool names to the shell commands that produce
// their artifacts. Command construction lives here; invocation belongs to the
// executor.
package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/jayteealao/htbase/internal/config"
)

// Spec describes one capture tool. Command templates use {url} and {output}
// placeholders; values are shell-quoted on substitution.
type Spec struct {
	Name       string
	Template   string
	Timeout    time.Duration
	OutputFile string
}

// Registry resolves tool names to specs, with config-level overrides.
type Registry struct {
	specs map[string]Spec
}

const chromiumFlags = "--headless=new --no-sandbox --disable-gpu --disable-dev-shm-usage " +
	"--run-all-compositor-stages-before-draw --virtual-time-budget=9000"

func defaults(defaultTimeout time.Duration) map[string]Spec {
	return map[string]Spec{
		"monolith": {
			Name:       "monolith",
			Template:   "monolith {url} -o {output}",
			Timeout:    defaultTimeout,
			OutputFile: "page.html",
		},
		"pdf": {
			Name:       "pdf",
			Template:   "chromium " + chromiumFlags + " --print-to-pdf={output} --print-to-pdf-no-header {url}",
			Timeout:    defaultTimeout,
			OutputFile: "page.pdf",
		},
		"screenshot": {
			Name:       "screenshot",
			Template:   "chromium " + chromiumFlags + " --screenshot={output} --window-size=1280,2000 {url}",
			Timeout:    defaultTimeout,
			OutputFile: "page.png",
		},
		"readability": {
			Name:       "readability",
			Template:   "readable {url} --json > {output}",
			Timeout:    defaultTimeout,
			OutputFile: "page.json",
		},
		"singlefile": {
			Name:       "singlefile",
			Template:   "single-file {url} {output}",
			Timeout:    defaultTimeout,
			OutputFile: "page.html",
		},
	}
}

// NewRegistry builds a Registry from the built-in tool set plus config
// overrides. Overrides may change the template, timeout, or output filename
// of a known tool, or define an entirely new one.
func NewRegistry(overrides map[string]config.ToolConfig, defaultTimeout time.Duration) *Registry {
	specs := defaults(defaultTimeout)
	for name, o := range overrides {
		spec, ok := specs[name]
		if !ok {
			spec = Spec{Name: name, OutputFile: "output", Timeout: defaultTimeout}
		}
		if o.Command != "" {
			spec.Template = o.Command
		}
		if o.TimeoutSeconds > 0 {
			spec.Timeout = time.Duration(o.TimeoutSeconds) * time.Second
		}
		if o.OutputFile != "" {
			spec.OutputFile = o.OutputFile
		}
		specs[name] = spec
	}
	return &Registry{specs: specs}
}

// Lookup returns the spec for a tool name.
func (r *Registry) Lookup(name string) (Spec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown capture tool %q", name)
	}
	if spec.Template == "" {
		return Spec{}, fmt.Errorf("capture tool %q has no command template", name)
	}
	return spec, nil
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	return out
}

// Command renders the spec's template for a concrete URL and output path.
func (s Spec) Command(url, outputPath string) string {
	cmd := strings.ReplaceAll(s.Template, "{url}", shellQuote(url))
	return strings.ReplaceAll(cmd, "{output}", shellQuote(outputPath))
}

// shellQuote wraps s in single quotes, escaping embedded single quotes, so
// URLs with metacharacters survive /bin/sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
