package ollama

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/ollama/ollama/api"
)

// wireLine is one NDJSON line from /api/generate. The server interleaves
// generate responses with bare {"error": "..."} objects, so both shapes
// decode here.
type wireLine struct {
	api.GenerateResponse
	Error string `json:"error"`
}

// streamDecoder reads an NDJSON stream line by line. Each line is decoded
// independently; a line that fails to decode is reported through onMalformed
// and skipped, never treated as fatal. The transport decides when to stop
// consuming (done flag, error object, or reader exhaustion).
type streamDecoder struct {
	onLine      func(wireLine) bool // return false to stop reading
	onMalformed func(line string, err error)
	lineCount   int
	dropCount   int
}

// decodeLine handles a single line. Returns false when the consumer asked to
// stop.
func (d *streamDecoder) decodeLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	d.lineCount++

	var wl wireLine
	if err := json.Unmarshal([]byte(line), &wl); err != nil {
		d.dropCount++
		if d.onMalformed != nil {
			d.onMalformed(line, err)
		}
		return true
	}
	if d.onLine != nil {
		return d.onLine(wl)
	}
	return true
}

// run consumes the reader until the consumer stops it or the stream ends.
// The returned error is the scanner's, nil on clean EOF.
func (d *streamDecoder) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Responses carrying whole files can produce very long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if !d.decodeLine(scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}
