package capture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

const (
	// maxLineBytes bounds a held-back line. Longer lines are broadcast in
	// pieces cut at rune boundaries.
	maxLineBytes = 32 * 1024
	// drainTimeout bounds how long Restore waits for the pipe to empty when
	// another process still holds its write end.
	drainTimeout = 2 * time.Second
)

// intercepted holds every descriptor currently redirected by a FileStream,
// whichever router owns it.
var intercepted = struct {
	sync.Mutex
	fds map[int]string
}{fds: make(map[int]string)}

func claimFd(fd int, tag string) error {
	intercepted.Lock()
	defer intercepted.Unlock()
	if owner, ok := intercepted.fds[fd]; ok {
		return fmt.Errorf("%s: descriptor %d held by %s: %w", tag, fd, owner, ErrAlreadyIntercepted)
	}
	intercepted.fds[fd] = tag
	return nil
}

func releaseFd(fd int) {
	intercepted.Lock()
	delete(intercepted.fds, fd)
	intercepted.Unlock()
}

// FileStream intercepts a process file such as os.Stdout at the descriptor
// level. The *os.File value is never replaced, so writers holding it keep
// working across activation and restore.
//
// While intercepted, the descriptor refers to the write end of a pipe. A
// pump goroutine copies every chunk it reads, unchanged, to a duplicate of
// the original descriptor and broadcasts each completed line.
type FileStream struct {
	tag  string
	fd   int
	name string

	mu    sync.Mutex
	saved *os.File
	pr    *os.File
	done  chan struct{}
}

// NewFileStream returns a stream over f's descriptor.
func NewFileStream(tag string, f *os.File) *FileStream {
	return &FileStream{tag: tag, fd: int(f.Fd()), name: f.Name()}
}

// Stdout returns a stream over the process's standard output.
func Stdout() *FileStream { return NewFileStream(SenderStdout, os.Stdout) }

// Stderr returns a stream over the process's standard error.
func Stderr() *FileStream { return NewFileStream(SenderStderr, os.Stderr) }

// DupFile returns an independent handle on f's current destination. Output
// written to it is not affected by a later interception of f.
func DupFile(f *os.File) (*os.File, error) {
	return dupFd(int(f.Fd()), f.Name())
}

func dupFd(fd int, name string) (*os.File, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate %s: %w", name, err)
	}
	return os.NewFile(uintptr(nfd), name), nil
}

// Tag returns the sender used for captured writes.
func (s *FileStream) Tag() string { return s.tag }

// Intercept implements Stream. Pass-through goes straight to the saved
// descriptor; wrap(nil) only receives the lines to broadcast.
func (s *FileStream) Intercept(wrap func(orig io.Writer) io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved != nil {
		return fmt.Errorf("%s: %w", s.tag, ErrAlreadyIntercepted)
	}
	if err := claimFd(s.fd, s.tag); err != nil {
		return err
	}

	saved, err := dupFd(s.fd, s.name)
	if err != nil {
		releaseFd(s.fd)
		return fmt.Errorf("%s: %w", s.tag, err)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = saved.Close()
		releaseFd(s.fd)
		return fmt.Errorf("%s: failed to create pipe: %w", s.tag, err)
	}

	// Fd switches the write end to blocking mode, which the redirected
	// descriptor shares, so a full pipe stalls writers instead of failing them.
	err = unix.Dup2(int(pw.Fd()), s.fd)
	_ = pw.Close()
	if err != nil {
		_ = pr.Close()
		_ = saved.Close()
		releaseFd(s.fd)
		return fmt.Errorf("%s: failed to redirect descriptor %d: %w", s.tag, s.fd, err)
	}

	s.saved = saved
	s.pr = pr
	s.done = make(chan struct{})
	go pump(pr, saved, wrap(nil), s.done)
	return nil
}

func pump(pr io.Reader, orig, emit io.Writer, done chan<- struct{}) {
	defer close(done)

	lines := &lineSplitter{max: maxLineBytes, out: func(line []byte) {
		_, _ = emit.Write(line)
	}}
	buf := make([]byte, 32*1024)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			_, _ = orig.Write(buf[:n])
			lines.Write(buf[:n])
		}
		if err != nil {
			lines.Flush()
			return
		}
	}
}

// Restore implements Stream. The original descriptor is back in place
// before it returns, and everything written to the pipe has been passed
// through.
func (s *FileStream) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return nil
	}

	if err := unix.Dup2(int(s.saved.Fd()), s.fd); err != nil {
		return fmt.Errorf("%s: failed to restore descriptor %d: %w", s.tag, s.fd, err)
	}

	// The pump reads EOF once no descriptor refers to the write end.
	select {
	case <-s.done:
	case <-time.After(drainTimeout):
		_ = s.pr.Close()
		<-s.done
	}
	_ = s.pr.Close()
	err := s.saved.Close()
	releaseFd(s.fd)

	s.saved = nil
	s.pr = nil
	s.done = nil
	if err != nil {
		return fmt.Errorf("%s: failed to close saved descriptor: %w", s.tag, err)
	}
	return nil
}

// lineSplitter cuts a byte stream into lines without their terminator. A
// partial line is held until its newline arrives, Flush is called or it
// grows past max. out must not retain the slice it is given.
type lineSplitter struct {
	max int
	out func(line []byte)
	buf []byte
}

func (l *lineSplitter) Write(p []byte) {
	for {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			l.buf = append(l.buf, p...)
			l.spill(false)
			return
		}
		l.buf = append(l.buf, p[:i]...)
		l.spill(true)
		p = p[i+1:]
	}
}

// Flush emits the held partial line.
func (l *lineSplitter) Flush() { l.spill(true) }

// spill emits max-sized pieces of the buffer, and the remainder as well
// when all is set.
func (l *lineSplitter) spill(all bool) {
	for len(l.buf) > l.max || (all && len(l.buf) > 0) {
		cut := len(l.buf)
		if cut > l.max {
			cut = runeCut(l.buf, l.max)
		}
		l.out(l.buf[:cut])
		l.buf = append(l.buf[:0], l.buf[cut:]...)
	}
}

// runeCut returns the largest index <= n that starts a rune. n < len(b).
func runeCut(b []byte, n int) int {
	for i := n; i > 0 && i > n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return n
}
