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


// Package export turns completed refinement runs into files: the final and
// intermediate artifacts, a Markdown audit trail, and JSON or YAML reports.
package export

import (
	"regexp"
	"strings"
)

var (
	codeBlockPattern = regexp.MustCompile("(?s)```[\\w+#.-]*[ \\t]*\\n?(.*?)\\s*```")
	unsafeChars      = regexp.MustCompile(`[^\w\s-]`)
	separators       = regexp.MustCompile(`[-\s]+`)
	fileUnsafe       = regexp.MustCompile(`[^\w.-]+`)
)

// ExtractCode returns the body of the first fenced code block in text, or
// the trimmed text when it has none.
func ExtractCode(text string) string {
	if m := codeBlockPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// Sanitize turns free text into a lowercase, folder-safe slug.
// maxLen of zero leaves the slug untruncated.
func Sanitize(text string, maxLen int) string {
	s := strings.TrimSpace(unsafeChars.ReplaceAllString(text, ""))
	s = strings.ToLower(separators.ReplaceAllString(s, "_"))
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "_")
	}
	if s == "" {
		return "run"
	}
	return s
}

// FileName replaces characters that are unsafe in a file name.
func FileName(name string) string {
	name = strings.Trim(fileUnsafe.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "run"
	}
	return name
}
