package runner

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// lineWriter splits a byte stream into lines and hands each one to a LineHandler.
// It is used as an exec.Cmd output stream, so it is written to by a single goroutine.
type lineWriter struct {
	origin  Origin
	maxLine int
	emit    LineHandler

	buf []byte
	// err is the first handler error; once set the writer rejects further output.
	err error
}

func newLineWriter(origin Origin, maxLine int, emit LineHandler) *lineWriter {
	return &lineWriter{origin: origin, maxLine: maxLine, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte{'\r'})
		for len(line) > w.maxLine {
			cut := w.cut(line)
			if err := w.send(line[:cut]); err != nil {
				return 0, err
			}
			line = line[cut:]
		}
		if err := w.send(line); err != nil {
			return 0, err
		}
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) > w.maxLine {
		cut := w.cut(w.buf)
		if err := w.send(w.buf[:cut]); err != nil {
			return 0, err
		}
		w.buf = w.buf[cut:]
	}
	return len(p), nil
}

// cut returns where to break an oversized line, backing off to a rune boundary where possible.
func (w *lineWriter) cut(line []byte) int {
	cut := w.maxLine
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	if cut == 0 {
		return w.maxLine
	}
	return cut
}

// Flush reports a trailing line that had no terminator.
func (w *lineWriter) Flush() error {
	if w.err != nil || len(w.buf) == 0 {
		return nil
	}
	line := bytes.TrimSuffix(w.buf, []byte{'\r'})
	w.buf = nil
	return w.send(line)
}

func (w *lineWriter) send(line []byte) error {
	text := strings.ToValidUTF8(string(line), string(utf8.RuneError))
	if err := w.emit(OutputLine{Origin: w.origin, Text: text}); err != nil {
		w.err = err
		return err
	}
	return nil
}
