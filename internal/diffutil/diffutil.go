// Package diffutil extracts what the scanners need from a unified diff: the
// added lines with their new-file line numbers, and change statistics.
// Input that is not a diff is treated as a single new file.
package diffutil

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Line is one added line.
type Line struct {
	File   string
	Number int
	Text   string
}

// File is one changed file.
type File struct {
	Name      string
	Added     []Line
	Additions int
	Deletions int
}

// Stats summarizes a change.
type Stats struct {
	Files     int `json:"files_changed"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Net returns additions minus deletions.
func (s Stats) Net() int {
	return s.Additions - s.Deletions
}

// IsDiff reports whether input parses as a unified diff with at least one hunk.
func IsDiff(input string) bool {
	_, ok := parse(input)
	return ok
}

// Parse returns the changed files. Non-diff input yields one unnamed file
// whose every line counts as added.
func Parse(input string) []File {
	if files, ok := parse(input); ok {
		return files
	}
	return []File{rawFile(input)}
}

// AddedLines returns every added line across all files.
func AddedLines(input string) []Line {
	var out []Line
	for _, f := range Parse(input) {
		out = append(out, f.Added...)
	}
	return out
}

// Summarize counts files, additions and deletions.
func Summarize(input string) Stats {
	files := Parse(input)
	s := Stats{Files: len(files)}
	for _, f := range files {
		s.Additions += f.Additions
		s.Deletions += f.Deletions
	}
	return s
}

func looksLikeDiff(input string) bool {
	return strings.Contains(input, "\n@@ ") &&
		(strings.HasPrefix(input, "diff ") || strings.HasPrefix(input, "--- ") ||
			strings.Contains(input, "\ndiff ") || strings.Contains(input, "\n--- "))
}

func parse(input string) ([]File, bool) {
	if !looksLikeDiff(input) {
		return nil, false
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(input)).ReadAllFiles()
	if err != nil || len(fileDiffs) == 0 {
		return nil, false
	}

	files := make([]File, 0, len(fileDiffs))
	hunks := 0
	for _, fd := range fileDiffs {
		f := File{Name: fileName(fd)}
		for _, h := range fd.Hunks {
			hunks++
			newLine := int(h.NewStartLine)
			for _, text := range splitBody(h.Body) {
				switch {
				case strings.HasPrefix(text, "+"):
					f.Additions++
					f.Added = append(f.Added, Line{File: f.Name, Number: newLine, Text: text[1:]})
					newLine++
				case strings.HasPrefix(text, "-"):
					f.Deletions++
				case strings.HasPrefix(text, `\`):
					// "\ No newline at end of file"
				default:
					newLine++
				}
			}
		}
		files = append(files, f)
	}
	if hunks == 0 {
		return nil, false
	}
	return files, true
}

func splitBody(body []byte) []string {
	s := strings.TrimSuffix(string(body), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func fileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "b/")
	name = strings.TrimPrefix(name, "a/")
	return name
}

func rawFile(input string) File {
	f := File{}
	if input == "" {
		return f
	}
	lines := strings.Split(strings.TrimSuffix(input, "\n"), "\n")
	for i, text := range lines {
		f.Added = append(f.Added, Line{Number: i + 1, Text: strings.TrimSuffix(text, "\r")})
	}
	f.Additions = len(lines)
	return f
}
