package supervisor

import "os"

// fanoutWriter writes to a best-effort capture file (which may be nil)
// and fans every chunk out to a set of in-memory observers. Write errors
// on the file are silently ignored, per spec §9: the authoritative
// signal is the process exit code, not the capture file.
type fanoutWriter struct {
	file      *os.File
	observers []func([]byte)
}

func newFanoutWriter(file *os.File, observers []func([]byte)) *fanoutWriter {
	return &fanoutWriter{file: file, observers: observers}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	if w.file != nil {
		_, _ = w.file.Write(p) // best-effort; ignored on purpose
	}
	for _, obs := range w.observers {
		obs(p)
	}
	return len(p), nil
}
