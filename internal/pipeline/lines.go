package pipeline

import "bytes"

const maxLogLine = 4096

// lineWriter forwards complete lines to emit as they arrive. Partial lines are
// held until the next newline or Flush.
type lineWriter struct {
	emit func(string)
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLogLine {
		w.Flush()
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if len(w.buf) == 0 {
		return
	}
	w.emit(string(w.buf))
	w.buf = w.buf[:0]
}
