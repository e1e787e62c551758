package filter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mikey/llm-phish-filter/internal/core"
)

// AnalysisErrorHeader carries the reason when a message could not be fully analyzed
const AnalysisErrorHeader = "X-Phishing-Analysis-Error"

// HeaderNames holds the names of the verdict headers added to each message
type HeaderNames struct {
	Status string
	Score  string
	Risk   string
	Method string
}

// messageTagger rewrites a raw message with verdict headers and an optional subject prefix
type messageTagger struct {
	headers       HeaderNames
	modifySubject bool
	subjectPrefix string
}

// StatusValue is the X-Phishing-Status value for a verdict
func StatusValue(v *core.Verdict) string {
	switch {
	case v == nil:
		return "unknown"
	case v.IsPhishing:
		return "phishing"
	default:
		return "clean"
	}
}

// tag prepends verdict headers to raw, dropping any inbound headers of the same
// names. subject is the decoded subject, used to avoid prefixing twice. The
// body is copied byte for byte.
func (t *messageTagger) tag(raw []byte, subject string, v *core.Verdict, analysisErr error) []byte {
	eol := "\r\n"
	headerEnd, sepLen := bytes.Index(raw, []byte("\r\n\r\n")), 4
	if headerEnd < 0 {
		eol = "\n"
		headerEnd, sepLen = bytes.Index(raw, []byte("\n\n")), 2
	}

	var header, body []byte
	if headerEnd < 0 {
		header = raw
	} else {
		header = raw[:headerEnd+sepLen/2]
		body = raw[headerEnd+sepLen/2:]
	}

	var out bytes.Buffer
	out.Grow(len(raw) + 256)

	fmt.Fprintf(&out, "%s: %s%s", t.headers.Status, StatusValue(v), eol)
	if v != nil {
		fmt.Fprintf(&out, "%s: %.1f%s", t.headers.Score, v.PhishingScore, eol)
		fmt.Fprintf(&out, "%s: %s%s", t.headers.Risk, v.RiskLevel, eol)
		fmt.Fprintf(&out, "%s: %s%s", t.headers.Method, v.DetectionMethod, eol)
	}
	if analysisErr != nil {
		fmt.Fprintf(&out, "%s: %s%s", AnalysisErrorHeader, singleLine(analysisErr.Error()), eol)
	}

	prefix := t.modifySubject && v != nil && v.IsPhishing && t.subjectPrefix != "" &&
		!strings.HasPrefix(subject, t.subjectPrefix)

	sawSubject := false
	dropping := false
	for _, line := range splitLines(header) {
		// Continuation lines belong to the previous header
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if !dropping {
				out.Write(line)
			}
			continue
		}
		dropping = t.isVerdictHeader(line)
		if dropping {
			continue
		}
		if prefix && !sawSubject && hasHeaderName(line, "Subject") {
			sawSubject = true
			value := strings.TrimLeft(string(line[len("Subject:"):]), " \t")
			out.WriteString("Subject: " + t.subjectPrefix + value)
			continue
		}
		out.Write(line)
	}
	if prefix && !sawSubject {
		if len(header) > 0 && header[len(header)-1] != '\n' {
			out.WriteString(eol)
		}
		fmt.Fprintf(&out, "Subject: %s%s", strings.TrimSpace(t.subjectPrefix), eol)
	}

	out.Write(body)
	return out.Bytes()
}

// isVerdictHeader reports whether line starts a header this filter writes,
// so inbound copies are dropped before tagging
func (t *messageTagger) isVerdictHeader(line []byte) bool {
	for _, name := range []string{t.headers.Status, t.headers.Score, t.headers.Risk, t.headers.Method, AnalysisErrorHeader} {
		if name != "" && hasHeaderName(line, name) {
			return true
		}
	}
	return false
}

// splitLines splits b after each newline, keeping the terminators
func splitLines(b []byte) [][]byte {
	var lines [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			lines = append(lines, b)
			break
		}
		lines = append(lines, b[:i+1])
		b = b[i+1:]
	}
	return lines
}

func hasHeaderName(line []byte, name string) bool {
	return len(line) > len(name) && line[len(name)] == ':' &&
		strings.EqualFold(string(line[:len(name)]), name)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
