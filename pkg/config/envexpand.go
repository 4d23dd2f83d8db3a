package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax to avoid collision with $ in path globs and
// shell snippets that show up in ownership patterns and tool arguments.
//
// Examples:
//   - {{.DB_PASSWORD}} → value of DB_PASSWORD
//   - {{.DB_HOST}}:{{.DB_PORT}} → hostname:port with both variables expanded
//   - ownership: "src/$generated" → preserved literally ($ not touched)
//
// Missing variables expand to empty string. Validation catches required
// fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Content without template syntax passes through; a later YAML
		// parse failure produces the clearer error message.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
