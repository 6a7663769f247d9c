// Package snippets renders copy-paste integration code that assigns
// visitors to an experiment's variants and reports exposures and
// conversions to the beacon endpoint.
package snippets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

type Framework string

const (
	FrameworkHTML  Framework = "html"
	FrameworkReact Framework = "react"
	FrameworkShell Framework = "shell"
)

// Frameworks lists the supported targets in display order.
var Frameworks = []Framework{FrameworkHTML, FrameworkReact, FrameworkShell}

type Config struct {
	ExperimentID int64
	FlagKey      string
	Variants     []string
	ServerURL    string
}

type SnippetFile struct {
	Filename string
	Content  string
}

type templateData struct {
	ExperimentID   int64
	FlagKey        string
	FlagPascal     string
	Variants       []string
	VariantsJSON   string
	ServerURL      string
	ServerURLJSON  string
	FirstVariant   string
	StorageKeyJSON string
}

// Generate renders the snippet files for framework.
func Generate(framework Framework, config Config) ([]SnippetFile, error) {
	if config.ExperimentID <= 0 {
		return nil, errors.New("experiment id must be positive")
	}
	if len(config.Variants) < 2 {
		return nil, errors.New("experiment needs at least 2 variants")
	}
	config.ServerURL = strings.TrimRight(config.ServerURL, "/")
	if config.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}

	data := buildTemplateData(config)

	switch framework {
	case FrameworkHTML:
		return render(data, htmlFiles)
	case FrameworkReact:
		return render(data, reactFiles)
	case FrameworkShell:
		return render(data, shellFiles)
	default:
		return nil, fmt.Errorf("unknown framework %q", framework)
	}
}

func buildTemplateData(config Config) templateData {
	variantsJSON, _ := json.Marshal(config.Variants)
	serverJSON, _ := json.Marshal(config.ServerURL)
	storageJSON, _ := json.Marshal(fmt.Sprintf("varyant_%d", config.ExperimentID))

	flag := config.FlagKey
	if flag == "" {
		flag = fmt.Sprintf("experiment-%d", config.ExperimentID)
	}

	return templateData{
		ExperimentID:   config.ExperimentID,
		FlagKey:        flag,
		FlagPascal:     toPascalCase(flag),
		Variants:       config.Variants,
		VariantsJSON:   string(variantsJSON),
		ServerURL:      config.ServerURL,
		ServerURLJSON:  string(serverJSON),
		FirstVariant:   config.Variants[0],
		StorageKeyJSON: string(storageJSON),
	}
}

// toPascalCase turns "checkout-button" into "CheckoutButton".
func toPascalCase(s string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

type fileTemplate struct {
	name    string
	content string
}

func render(data templateData, files []fileTemplate) ([]SnippetFile, error) {
	out := make([]SnippetFile, 0, len(files))
	for _, f := range files {
		name, err := renderTemplate(f.name+":name", f.name, data)
		if err != nil {
			return nil, err
		}
		content, err := renderTemplate(f.name, f.content, data)
		if err != nil {
			return nil, err
		}
		out = append(out, SnippetFile{Filename: name, Content: content})
	}
	return out, nil
}

func renderTemplate(name, content string, data templateData) (string, error) {
	tmpl, err := template.New(name).Parse(content)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

var htmlFiles = []fileTemplate{{
	name: "{{.FlagKey}}.html",
	content: `<!-- varyant experiment #{{.ExperimentID}} ({{.FlagKey}}) -->
<script>
(function () {
  var server = {{.ServerURLJSON}};
  var experimentId = {{.ExperimentID}};
  var variants = {{.VariantsJSON}};
  var storageKey = {{.StorageKeyJSON}};

  var visitor = localStorage.getItem('varyant_visitor');
  if (!visitor) {
    visitor = crypto.randomUUID();
    localStorage.setItem('varyant_visitor', visitor);
  }
  var variant = localStorage.getItem(storageKey);
  if (variants.indexOf(variant) < 0) {
    variant = variants[Math.floor(Math.random() * variants.length)];
    localStorage.setItem(storageKey, variant);
  }

  function send(event) {
    fetch(server + '/b', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({ experimentId: experimentId, variant: variant, event: event, visitorId: visitor }),
      keepalive: true
    });
  }

  document.documentElement.setAttribute('data-varyant-{{.ExperimentID}}', variant);
  send('exposure');

  document.addEventListener('click', function (e) {
    if (e.target.closest('[data-varyant-convert="{{.ExperimentID}}"]')) {
      send('conversion');
    }
  });
})();
</script>

<!-- Style each variant with html[data-varyant-{{.ExperimentID}}="<variant>"] selectors. -->
<!-- Mark the conversion target: -->
<button data-varyant-convert="{{.ExperimentID}}">Get Started</button>
`,
}}

var reactFiles = []fileTemplate{
	{
		name: "useVisitorId.ts",
		content: `import { useState, useEffect } from 'react';

export function useVisitorId(): string {
  const [visitorId, setVisitorId] = useState<string>('');

  useEffect(() => {
    let id = localStorage.getItem('varyant_visitor');
    if (!id) {
      id = crypto.randomUUID();
      localStorage.setItem('varyant_visitor', id);
    }
    setVisitorId(id);
  }, []);

  return visitorId;
}
`,
	},
	{
		name: "use{{.FlagPascal}}.ts",
		content: `import { useCallback, useEffect, useState } from 'react';
import { useVisitorId } from './useVisitorId';

const SERVER_URL = {{.ServerURLJSON}};
const EXPERIMENT_ID = {{.ExperimentID}};
const VARIANTS: string[] = {{.VariantsJSON}};
const STORAGE_KEY = {{.StorageKeyJSON}};

function send(variant: string, visitorId: string, event: 'exposure' | 'conversion') {
  fetch(SERVER_URL + '/b', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({ experimentId: EXPERIMENT_ID, variant, event, visitorId }),
    keepalive: true,
  });
}

// use{{.FlagPascal}} assigns a sticky variant and records the exposure.
export function use{{.FlagPascal}}() {
  const visitorId = useVisitorId();
  const [variant, setVariant] = useState<string>('{{.FirstVariant}}');

  useEffect(() => {
    if (!visitorId) return;
    let v = localStorage.getItem(STORAGE_KEY);
    if (!v || !VARIANTS.includes(v)) {
      v = VARIANTS[Math.floor(Math.random() * VARIANTS.length)];
      localStorage.setItem(STORAGE_KEY, v);
    }
    setVariant(v);
    send(v, visitorId, 'exposure');
  }, [visitorId]);

  const convert = useCallback(() => {
    if (visitorId) send(variant, visitorId, 'conversion');
  }, [variant, visitorId]);

  return { variant, convert };
}
`,
	},
}

var shellFiles = []fileTemplate{{
	name: "{{.FlagKey}}.sh",
	content: `#!/bin/sh
# Record events for experiment #{{.ExperimentID}} from a backend service.
# Variants: {{range $i, $v := .Variants}}{{if $i}}, {{end}}{{$v}}{{end}}
VISITOR_ID="$1"
VARIANT="${2:-{{.FirstVariant}}}"

curl -s -X POST '{{.ServerURL}}/b' \
  -H 'Content-Type: application/json' \
  -d "{\"experimentId\":{{.ExperimentID}},\"variant\":\"$VARIANT\",\"event\":\"exposure\",\"visitorId\":\"$VISITOR_ID\"}"

# On conversion:
# curl -s -X POST '{{.ServerURL}}/b' \
#   -H 'Content-Type: application/json' \
#   -d "{\"experimentId\":{{.ExperimentID}},\"variant\":\"$VARIANT\",\"event\":\"conversion\",\"visitorId\":\"$VISITOR_ID\"}"
`,
}}
