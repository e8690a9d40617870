package extract

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// fence is one fenced code block with its byte offset in the reply.
type fence struct {
	lang  string
	body  string
	start int
}

// fencedBlocks scans line by line. An unterminated fence at the end of the
// reply still yields its body; models truncate mid-fence often enough.
func fencedBlocks(s string) []fence {
	var out []fence
	var body []string
	var cur fence
	inFence := false
	offset := 0

	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && strings.HasPrefix(trimmed, "```"):
			inFence = true
			cur = fence{
				lang:  strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))),
				start: offset,
			}
			body = body[:0]
		case inFence && trimmed == "```":
			inFence = false
			cur.body = strings.Join(body, "\n")
			out = append(out, cur)
		case inFence:
			body = append(body, line)
		}
		offset += len(line) + 1
	}
	if inFence {
		cur.body = strings.Join(body, "\n")
		out = append(out, cur)
	}
	return out
}

// FencedBody returns the largest fenced block that is not tool JSON, for
// callers that want whole-file content rather than a targeted replacement.
func FencedBody(resp string) (string, bool) {
	var best *fence
	all := fencedBlocks(resp)
	for i := range all {
		f := &all[i]
		if f.body == "" || looksLikeToolJSON(f.body) {
			continue
		}
		if best == nil || len(f.body) > len(best.body) {
			best = f
		}
	}
	if best == nil {
		return "", false
	}
	return best.body, true
}

// FirstFencedBody returns the first fenced block that is not tool JSON.
func FirstFencedBody(resp string) (string, bool) {
	for _, f := range fencedBlocks(resp) {
		if f.body != "" && !looksLikeToolJSON(f.body) {
			return f.body, true
		}
	}
	return "", false
}

// markerRe matches lines like "REPLACE main.css (Lines 1-3):", tolerating
// case, "Line", a missing range, and a missing colon.
var markerRe = regexp.MustCompile(`(?i)^\s*replace\s+(\S+?)\s*(?:\(\s*lines?\s+(\d+)\s*-\s*(\d+)\s*\))?\s*:?\s*$`)

type marker struct {
	name      string
	startLine int
	endLine   int
	lineIdx   int
}

func parseMarkerLine(line string) (marker, bool) {
	m := markerRe.FindStringSubmatch(line)
	if m == nil {
		return marker{}, false
	}
	out := marker{name: m[1]}
	if m[2] != "" {
		out.startLine, _ = strconv.Atoi(m[2])
		out.endLine, _ = strconv.Atoi(m[3])
		if out.startLine < 1 || out.endLine < out.startLine {
			return marker{}, false
		}
	}
	return out, true
}

// explicitMarker handles replies that name their file and line range. The
// replacement body runs from the marker to the next marker, the end of the
// surrounding fenced region, or the end of the reply.
func explicitMarker(resp string, targets []Target) []Candidate {
	lines := strings.Split(resp, "\n")

	var markers []marker
	for i, line := range lines {
		if m, ok := parseMarkerLine(line); ok {
			m.lineIdx = i
			markers = append(markers, m)
		}
	}

	var out []Candidate
	for i, m := range markers {
		end := len(lines)
		if i+1 < len(markers) {
			end = markers[i+1].lineIdx
		}
		target := matchMarkerTarget(m, targets)
		if target == nil {
			continue
		}
		body := replacementBody(lines, m.lineIdx+1, end)
		if body == "" {
			continue
		}
		out = append(out, Candidate{
			TargetPath:  target.Path,
			TargetChunk: target.Chunk,
			Proposed:    body,
			Origin:      OriginExplicitMarker,
		})
	}
	return out
}

// matchMarkerTarget pairs a marker with a target by file name, then by exact
// line range. A rangeless marker only matches a whole-file target; a ranged
// marker only matches a target with that exact range. No guessing.
func matchMarkerTarget(m marker, targets []Target) *Target {
	for i := range targets {
		t := &targets[i]
		if !markerNameMatches(m.name, t) {
			continue
		}
		if m.startLine > 0 {
			if t.StartLine == m.startLine && t.EndLine == m.endLine {
				return t
			}
			continue
		}
		if t.StartLine == 0 {
			return t
		}
	}
	return nil
}

func markerNameMatches(name string, t *Target) bool {
	if strings.EqualFold(name, t.Path) || strings.EqualFold(name, filepath.Base(t.Path)) {
		return true
	}
	return t.Chunk != nil && strings.EqualFold(name, t.Chunk.FileName)
}

// replacementBody collects lines[from:to], unwrapping one fence: a body that
// opens with ``` ends at the matching ```, and a body inside the marker's
// fence ends at that fence's closer.
func replacementBody(lines []string, from, to int) string {
	var body []string
	started := false
	for i := from; i < to && i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if !started {
			if trimmed == "" {
				continue
			}
			started = true
			if strings.HasPrefix(trimmed, "```") {
				continue
			}
		} else if strings.HasPrefix(trimmed, "```") {
			break
		}
		body = append(body, line)
	}
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
		body = body[:len(body)-1]
	}
	return strings.Join(body, "\n")
}

var chunkRefRe = regexp.MustCompile(`(?i)\bchunk\s+(\d+)\b`)

// numberedChunk resolves "Chunk N" ordinals against the attached chunks.
// Every reference takes the first unconsumed fence after it; references
// without a following fence produce nothing.
func numberedChunk(resp string, targets []Target) []Candidate {
	refs := chunkRefRe.FindAllStringSubmatchIndex(resp, -1)
	if len(refs) == 0 {
		return nil
	}
	fences := fencedBlocks(resp)
	if len(fences) == 0 {
		return nil
	}

	var out []Candidate
	nextFence := 0
	seen := make(map[int]bool)
	for _, ref := range refs {
		ordinal, err := strconv.Atoi(resp[ref[2]:ref[3]])
		if err != nil || seen[ordinal] {
			continue
		}

		target := targetByOrdinal(targets, ordinal)
		if target == nil {
			continue
		}

		for nextFence < len(fences) && fences[nextFence].start < ref[1] {
			nextFence++
		}
		if nextFence >= len(fences) {
			break
		}
		body := fences[nextFence].body
		nextFence++
		seen[ordinal] = true
		if body == "" {
			continue
		}
		out = append(out, Candidate{
			TargetPath:  target.Path,
			TargetChunk: target.Chunk,
			Proposed:    body,
			Origin:      OriginExplicitMarker,
		})
	}
	return out
}

func targetByOrdinal(targets []Target, ordinal int) *Target {
	for i := range targets {
		if targets[i].Chunk != nil && targets[i].Ordinal == ordinal {
			return &targets[i]
		}
	}
	return nil
}

// singleTargetHeuristic applies only when exactly one target is attached: the
// largest fenced block whose content class fits the target wins. Blocks that
// look like the classifier's or planner's own JSON are never code.
func singleTargetHeuristic(resp string, targets []Target) []Candidate {
	if len(targets) != 1 {
		return nil
	}
	target := targets[0]
	wantCSS := isStylesheetPath(targetPath(target))

	var best *fence
	all := fencedBlocks(resp)
	for i := range all {
		f := &all[i]
		if f.body == "" || looksLikeToolJSON(f.body) {
			continue
		}
		if !classCompatible(f, wantCSS) {
			continue
		}
		if best == nil || len(f.body) > len(best.body) {
			best = f
		}
	}
	if best == nil {
		return nil
	}
	return []Candidate{{
		TargetPath:  target.Path,
		TargetChunk: target.Chunk,
		Proposed:    best.body,
		Origin:      OriginSingleChunkInference,
	}}
}

// changePhrases is the language that licenses the prose fallback.
var changePhrases = []string{
	"replace with",
	"replace it with",
	"change to",
	"change it to",
	"should be",
	"updated version",
	"new version",
}

// proseExtraction is the conservative last resort: explicit change language,
// exactly one target, exactly one fenced block.
func proseExtraction(resp string, targets []Target) []Candidate {
	if len(targets) != 1 {
		return nil
	}
	lower := strings.ToLower(resp)
	hasChangeLanguage := false
	for _, phrase := range changePhrases {
		if strings.Contains(lower, phrase) {
			hasChangeLanguage = true
			break
		}
	}
	if !hasChangeLanguage {
		return nil
	}

	all := fencedBlocks(resp)
	if len(all) != 1 || all[0].body == "" || looksLikeToolJSON(all[0].body) {
		return nil
	}
	return []Candidate{{
		TargetPath:  targets[0].Path,
		TargetChunk: targets[0].Chunk,
		Proposed:    all[0].body,
		Origin:      OriginHeuristicExtraction,
	}}
}

func targetPath(t Target) string {
	if t.Path != "" {
		return t.Path
	}
	if t.Chunk != nil {
		return t.Chunk.FilePath
	}
	return ""
}

func isStylesheetPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".scss", ".less":
		return true
	}
	return false
}

var cssLangs = map[string]bool{"css": true, "scss": true, "less": true}

// classCompatible checks the fence against the target's content class. The
// language tag decides when present; otherwise the body's shape does.
func classCompatible(f *fence, wantCSS bool) bool {
	if f.lang != "" {
		if f.lang == "json" {
			return false
		}
		if wantCSS {
			return cssLangs[f.lang]
		}
		return !cssLangs[f.lang]
	}
	if wantCSS {
		return looksLikeCSS(f.body)
	}
	return looksLikeCode(f.body)
}

func looksLikeCSS(s string) bool {
	if !strings.Contains(s, "{") || !strings.Contains(s, "}") || !strings.Contains(s, ":") {
		return false
	}
	for _, kw := range []string{"func ", "function ", "def ", "return ", "=>", ":=", "import ", "package "} {
		if strings.Contains(s, kw) {
			return false
		}
	}
	return true
}

func looksLikeCode(s string) bool {
	for _, kw := range []string{
		"func ", "function ", "def ", "class ", "interface ", "struct ",
		"import ", "package ", "return ", "var ", "let ", "const ", "type ",
	} {
		if strings.Contains(s, kw) {
			return true
		}
	}
	for _, sym := range []string{"{", "};", "();", ":=", "->", "=>", " = ", "=="} {
		if strings.Contains(s, sym) {
			return true
		}
	}
	return false
}

// looksLikeToolJSON spots blocks shaped like the copilot's own classifier or
// planner output so they are never mistaken for proposed code.
func looksLikeToolJSON(body string) bool {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return false
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return false
	}
	if !json.Valid([]byte(trimmed)) {
		return false
	}
	return strings.Contains(trimmed, `"tool_name"`) || strings.Contains(trimmed, `"content"`)
}
