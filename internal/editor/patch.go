package editor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Patch summarizes a change to one file.
type Patch struct {
	Text      string `json:"text"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// BuildPatch computes a line-based patch of before to after. The path is
// shown relative to baseDir in the header when possible.
func BuildPatch(path, before, after, baseDir string) Patch {
	if before == after {
		return Patch{}
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var p Patch
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			p.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			p.Deletions += countLines(d.Text)
		}
	}

	text := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if text == "" {
		return p
	}

	var sb strings.Builder
	if rel := relativePath(path, baseDir); rel != "" {
		fmt.Fprintf(&sb, "--- %s\n+++ %s\n", rel, rel)
	}
	sb.WriteString(text)
	p.Text = sb.String()
	return p
}

func relativePath(path, baseDir string) string {
	if path == "" || baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
