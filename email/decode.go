package email

import (
	"strings"
	"unicode"
)

// Parsed is the result of splitting a raw email into headers and body
type Parsed struct {
	Headers map[string]string
	Body    string
	Size    int
}

// Decode splits raw email text into a header map and a body.
//
// Header lines are taken up to the first blank line: each line holding a colon
// is split on the first colon, the name lower-cased, and later values replace
// earlier ones. Everything after the blank line is body, right-trimmed. This
// is not RFC 5322 parsing: folded headers, multipart bodies and encoded words
// are left untouched. Size is the byte length of content.
func Decode(content string) Parsed {
	headers := make(map[string]string)
	var body strings.Builder
	inBody := false

	for _, line := range strings.Split(content, "\n") {
		if !inBody && strings.TrimSpace(line) == "" {
			inBody = true
			continue
		}

		if inBody {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return Parsed{
		Headers: headers,
		Body:    strings.TrimRightFunc(body.String(), unicode.IsSpace),
		Size:    len(content),
	}
}

// Header returns the value of the named header, case-insensitively
func (p Parsed) Header(name string) string {
	return p.Headers[strings.ToLower(name)]
}

func (p Parsed) From() string    { return p.Header("from") }
func (p Parsed) To() string      { return p.Header("to") }
func (p Parsed) Subject() string { return p.Header("subject") }
func (p Parsed) Date() string    { return p.Header("date") }
