package transport

import "strings"

// DefaultDelimiter is the sentinel used when a caller does not supply
// one explicitly.
const DefaultDelimiter = "\r\n[[[SPF]]]\r\n"

// splitter accumulates streamed text and emits one part per complete
// delimiter-separated segment, tolerating the delimiter straddling
// chunk boundaries. An empty delimiter passes every fed chunk through
// as its own part, for single-body (non-multipart) responses.
type splitter struct {
	delimiter string
	buf       strings.Builder
}

func newSplitter(delimiter string) *splitter {
	return &splitter{delimiter: delimiter}
}

// feed appends chunk to the internal buffer and returns every complete
// part it now contains, removing them from the buffer. The delimiter
// itself is never part of the emitted slices.
func (s *splitter) feed(chunk []byte) [][]byte {
	if s.delimiter == "" {
		if len(chunk) == 0 {
			return nil
		}
		out := make([]byte, len(chunk))
		copy(out, chunk)
		return [][]byte{out}
	}

	s.buf.Write(chunk)
	text := s.buf.String()

	var parts [][]byte
	for {
		idx := strings.Index(text, s.delimiter)
		if idx < 0 {
			break
		}
		part := text[:idx]
		if part != "" {
			parts = append(parts, []byte(part))
		}
		text = text[idx+len(s.delimiter):]
	}

	s.buf.Reset()
	s.buf.WriteString(text)
	return parts
}

// flush returns any trailing text left in the buffer (a final part not
// terminated by a delimiter), or nil if nothing remains.
func (s *splitter) flush() []byte {
	remaining := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(remaining) == "" {
		return nil
	}
	return []byte(remaining)
}
