// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/kadirpekel/refinery/pkg/refine"
)

// AuditWriter writes a run folder <dir>/<slug>_<timestamp>/ holding the final
// and intermediate artifacts plus AUDIT_TRAIL.md.
type AuditWriter struct {
	// Dir is the parent directory. Default: "generated"
	Dir string

	// Pattern prefixes folder names. Default: "evaluator_optimiser"
	Pattern string

	// Extension of artifact files. Default: "py"
	Extension string

	// Language tags fenced blocks in the audit trail. Default: "python"
	Language string

	// Now overrides the folder timestamp, mainly for tests.
	Now func() time.Time

	Logger *slog.Logger
}

func (w *AuditWriter) setDefaults() {
	if w.Dir == "" {
		w.Dir = "generated"
	}
	if w.Pattern == "" {
		w.Pattern = "evaluator_optimiser"
	}
	if w.Extension == "" {
		w.Extension = "py"
	}
	if w.Language == "" {
		w.Language = "python"
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
}

// Export implements Exporter.
func (w *AuditWriter) Export(_ context.Context, res *refine.RunResult) error {
	_, err := w.Write(res)
	return err
}

// Write creates the run folder and returns its path.
func (w *AuditWriter) Write(res *refine.RunResult) (string, error) {
	w.setDefaults()

	now := w.Now()
	folder := filepath.Join(w.Dir, fmt.Sprintf("%s_%s", Sanitize(w.Pattern, 40), now.Format("20060102_150405")))
	if res.RunID != "" {
		folder += "_" + Sanitize(res.RunID, 8)
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audit folder: %w", err)
	}

	var files []string
	write := func(name, content, label string) error {
		code := ExtractCode(content)
		if code == "" {
			return nil
		}
		file := name + "." + w.Extension
		if err := os.WriteFile(filepath.Join(folder, file), []byte(code+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		files = append(files, fmt.Sprintf("`%s` - %s", file, label))
		return nil
	}

	if res.Final != nil {
		if err := write("final_code", res.Final.Content, "Iteratively optimised implementation"); err != nil {
			return "", err
		}
	}
	for _, rec := range res.History {
		name, label := fmt.Sprintf("iteration_%d", rec.Index), fmt.Sprintf("Iteration %d improvement", rec.Index)
		if rec.Index == 0 {
			name, label = "initial_code", "Initial implementation"
		}
		if err := write(name, rec.Artifact.Content, label); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	if err := auditTemplate.Execute(&b, auditData{
		Result:    res,
		Generated: now.Format("2006-01-02 15:04:05"),
		Language:  w.Language,
		Files:     files,
	}); err != nil {
		return "", fmt.Errorf("failed to render audit trail: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "AUDIT_TRAIL.md"), []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write audit trail: %w", err)
	}

	w.Logger.Info("Audit trail written", "run_id", res.RunID, "folder", folder)
	return folder, nil
}

type auditData struct {
	Result    *refine.RunResult
	Generated string
	Language  string
	Files     []string
}

var auditTemplate = template.Must(template.New("audit").Funcs(template.FuncMap{
	"code": ExtractCode,
	"score": func(r *refine.RunResult) string {
		if s, ok := r.FinalScore(); ok {
			return fmt.Sprintf("%d/%d", s, refine.MaxScore)
		}
		return "N/A"
	},
	"label": func(i int) string {
		if i == 0 {
			return "Initial Code"
		}
		return fmt.Sprintf("Iteration %d", i)
	},
	"max": func() int { return refine.MaxScore },
}).Parse(`# Evaluator-Optimiser Audit Trail

**Generated:** {{.Generated}}
**Run:** {{.Result.RunID}}
**Task:** {{.Result.Task.Description}}
**Total Iterations:** {{.Result.IterationCount}}
**Final Score:** {{score .Result}}

## Final Code
{{- if .Result.Final}}
` + "```" + `{{.Language}}
{{code .Result.Final.Content}}
` + "```" + `
{{- else}}
No artifact was produced.
{{- end}}

## Optimisation Summary
- **Total Iterations:** {{.Result.IterationCount}}
- **Final Quality Score:** {{score .Result}}
- **Completion Reason:** {{.Result.Reason.Description}}
- **Selected Iteration:** {{.Result.FinalIndex}}
- **Retries:** {{.Result.Retries}}
{{- if .Result.Err}}
- **Error:** {{.Result.Err}}
{{- end}}
{{- if gt (len .Result.History) 1}}

## Code Evolution
{{range .Result.History}}
### {{label .Index}}{{with .Evaluation}} (Score: {{.Aggregate}}/{{max}}){{end}}
{{- with .Evaluation}}
{{range .Scores}}
- {{.Criterion}}: {{.Value}}/{{max}}{{if .Feedback}} - {{.Feedback}}{{end}}
{{- end}}
{{- if .Summary}}

{{.Summary}}
{{- end}}
{{- end}}

` + "```" + `{{$.Language}}
{{code .Artifact.Content}}
` + "```" + `
{{end}}
{{- end}}
{{- if .Result.Failures}}

## Failures
{{range .Result.Failures}}
- iteration {{.Iteration}} {{.Step}} attempt {{.Attempt}}: {{.Error}}
{{- end}}
{{- end}}

## Files Generated
{{range .Files}}
- {{.}}
{{- end}}

---
*Generated by refinery*
`))
