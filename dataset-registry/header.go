package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

const maxHeaderBytes = 1 << 20

// headerSniffer keeps the first line written to it so the CSV header of an
// upload can be read while the body streams to storage.
type headerSniffer struct {
	buf  bytes.Buffer
	done bool
}

func (s *headerSniffer) Write(p []byte) (int, error) {
	if s.done {
		return len(p), nil
	}
	room := maxHeaderBytes - s.buf.Len()
	chunk := p
	if len(chunk) > room {
		chunk = chunk[:room]
	}
	if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
		chunk = chunk[:i+1]
		s.done = true
	}
	s.buf.Write(chunk)
	if s.buf.Len() >= maxHeaderBytes {
		s.done = true
	}
	return len(p), nil
}

func (s *headerSniffer) Columns() ([]string, error) {
	return readCSVHeader(bytes.NewReader(s.buf.Bytes()))
}

func readCSVHeader(r io.Reader) ([]string, error) {
	br := bufio.NewReader(io.LimitReader(r, maxHeaderBytes))
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	line = strings.TrimPrefix(strings.TrimRight(line, "\r\n"), "\uFEFF")
	if strings.TrimSpace(line) == "" {
		return nil, errors.New("empty header")
	}

	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.TrimSpace(f))
	}
	return out, nil
}

func containsString(in []string, value string) bool {
	for _, v := range in {
		if v == value {
			return true
		}
	}
	return false
}
