package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// hunk is one @@ block of a unified diff.
type hunk struct {
	oldStart int
	oldCount int
	newStart int
	newCount int
	lines    []string
}

var hunkHeaderRE = regexp.MustCompile(`^@@\s+\-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)

func parsePatch(patch string) ([]hunk, error) {
	patch = strings.ReplaceAll(patch, "\r\n", "\n")

	var hunks []hunk
	var cur *hunk
	for _, line := range strings.Split(patch, "\n") {
		if m := hunkHeaderRE.FindStringSubmatch(line); m != nil {
			hunks = append(hunks, hunk{
				oldStart: atoiOr(m[1], 0),
				oldCount: atoiOr(m[2], 1),
				newStart: atoiOr(m[3], 0),
				newCount: atoiOr(m[4], 1),
			})
			cur = &hunks[len(hunks)-1]
			continue
		}
		if cur == nil || line == "" {
			continue
		}
		switch line[0] {
		case ' ', '+', '-', '\\':
			cur.lines = append(cur.lines, line)
		}
		// File headers and other metadata between hunks are skipped.
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks in patch")
	}
	return hunks, nil
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func applyHunks(lines []string, hunks []hunk) ([]string, *bool, error) {
	offset := 0
	// nil: the patch says nothing about the EOF newline. Otherwise true
	// means the patched file ends without one.
	var noEOFNewline *bool
	for _, h := range hunks {
		if h.oldStart <= 0 {
			return nil, nil, fmt.Errorf("bad hunk start %d", h.oldStart)
		}
		at := h.oldStart - 1 + offset
		if at < 0 || at > len(lines) {
			return nil, nil, fmt.Errorf("hunk start %d outside file of %d lines", h.oldStart, len(lines))
		}

		pos := at
		var repl []string
		for i, hl := range h.lines {
			text := hl[1:]
			marked := i+1 < len(h.lines) && strings.HasPrefix(h.lines[i+1], `\ No newline`)
			switch hl[0] {
			case ' ':
				if pos >= len(lines) || lines[pos] != text {
					return nil, nil, fmt.Errorf("context mismatch at line %d", pos+1)
				}
				repl = append(repl, lines[pos])
				pos++
				if marked {
					noEOFNewline = boolPtr(true)
				}
			case '-':
				if pos >= len(lines) || lines[pos] != text {
					return nil, nil, fmt.Errorf("delete mismatch at line %d", pos+1)
				}
				pos++
				// Marker on a removed line describes the old file only.
				if marked {
					noEOFNewline = boolPtr(false)
				}
			case '+':
				repl = append(repl, text)
				if marked {
					noEOFNewline = boolPtr(true)
				} else if noEOFNewline != nil {
					// The new side ends with a normal line, restoring
					// the trailing newline the old side lacked.
					noEOFNewline = boolPtr(false)
				}
			case '\\':
				// Consumed via the lookahead above.
			}
		}

		consumed := pos - at
		if h.oldCount > 0 && consumed != h.oldCount {
			return nil, nil, fmt.Errorf("hunk consumed %d old lines, header said %d", consumed, h.oldCount)
		}

		next := make([]string, 0, len(lines)-consumed+len(repl))
		next = append(next, lines[:at]...)
		next = append(next, repl...)
		next = append(next, lines[pos:]...)
		lines = next
		offset += len(repl) - consumed
	}
	return lines, noEOFNewline, nil
}

func boolPtr(b bool) *bool { return &b }

// ApplyPatch applies a unified diff to content. Context and delete lines
// must match the file exactly; CRLF input is normalized to LF first.
func ApplyPatch(content, patch string) (string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	hadEOFNewline := strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")

	var lines []string
	if content != "" || hadEOFNewline {
		lines = strings.Split(content, "\n")
	}

	hunks, err := parsePatch(patch)
	if err != nil {
		return "", err
	}
	updated, noEOFNewline, err := applyHunks(lines, hunks)
	if err != nil {
		return "", err
	}

	out := strings.Join(updated, "\n")
	switch {
	case noEOFNewline != nil && !*noEOFNewline:
		out += "\n"
	case noEOFNewline == nil && hadEOFNewline:
		out += "\n"
	}
	return out, nil
}

type applyPatchArgs struct {
	Path  string `json:"path"`
	Patch string `json:"patch"`
}

func applyPatchTool(_ context.Context, args json.RawMessage, ec ExecContext) Result {
	var a applyPatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad apply_patch arguments: %v", err)
	}
	if strings.TrimSpace(a.Patch) == "" {
		return errResult("apply_patch: empty patch")
	}
	path, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("apply_patch: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errResult("apply_patch: %v", err)
	}
	updated, err := ApplyPatch(string(data), a.Patch)
	if err != nil {
		return errResult("apply_patch: %v", err)
	}
	recordUndo(ec.Undo, path)
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(updated), mode); err != nil {
		return errResult("apply_patch: %v", err)
	}
	return okResult(fmt.Sprintf("patched %s", a.Path))
}
