package llm

import "strings"

// ExtractJSON pulls the first JSON object out of an agent reply. Replies
// routinely wrap the object in a markdown fence, surround it with prose,
// and commit JavaScript-isms (// comments, trailing commas); all of that
// is tolerated. Returns "" when no object is found.
func ExtractJSON(content string) string {
	if body := fencedBody(content); body != "" {
		if obj := balancedObject(body); obj != "" {
			return sanitizeJSON(obj)
		}
	}
	if obj := balancedObject(content); obj != "" {
		return sanitizeJSON(obj)
	}
	return ""
}

// fencedBody returns the body of the first complete ``` fence, skipping
// the info string.
func fencedBody(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return ""
	}
	rest := s[open+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return ""
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// balancedObject returns the first brace-balanced {...} span. String
// literals are tracked so braces inside values don't count.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON strips // comments and trailing commas, both outside string
// literals only.
func sanitizeJSON(raw string) string {
	return stripTrailingCommas(stripComments(raw))
}

func stripComments(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			i-- // the loop increment lands on the newline
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

func stripTrailingCommas(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t' || raw[j] == '\n' || raw[j] == '\r') {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue // drop the comma, keep the whitespace
			}
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}
