package engine

import (
	"strings"
	"text/template"
)

// Rendered context layouts. The conversation layout carries only memories;
// the knowledge layout adds concepts; the comprehensive layout interleaves
// memories, history, and concepts for full prompt assembly.
var (
	conversationTemplate = template.Must(template.New("conversation").Funcs(templateFuncs).Parse(
		`Relevant memories:
{{- range .Memories}}
- [{{.Record.MemoryType}}] {{oneline .Record.Content}} (relevance {{printf "%.2f" .RelevanceScore}})
{{- end}}
`))

	knowledgeTemplate = template.Must(template.New("knowledge").Funcs(templateFuncs).Parse(
		`{{- if .Concepts}}Known concepts: {{join .Concepts ", "}}
{{end -}}
{{- if .Memories}}Related knowledge:
{{- range .Memories}}
- {{oneline .Record.Content}}
{{- end}}
{{end -}}
`))

	comprehensiveTemplate = template.Must(template.New("comprehensive").Funcs(templateFuncs).Parse(
		`{{- if .Memories}}Relevant memories:
{{- range .Memories}}
- [{{.Record.MemoryType}}] {{oneline .Record.Content}} (relevance {{printf "%.2f" .RelevanceScore}})
{{- end}}
{{end -}}
{{- if .History}}Recent conversation:
{{- range .History}}
- Q: {{oneline .Query}}
  A: {{oneline .Response}}
{{- end}}
{{end -}}
{{- if .Concepts}}Active concepts: {{join .Concepts ", "}}
{{end -}}
`))
)

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"oneline": func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	},
}
