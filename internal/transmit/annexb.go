package transmit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/smazurov/livenode/internal/media"
)

// AnnexBWriter writes the raw elementary stream, playable with ffplay.
type AnnexBWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	closed bool
	bytes  int64
}

// NewAnnexBWriter writes to w. Close closes w when it is an io.Closer.
func NewAnnexBWriter(w io.Writer) *AnnexBWriter {
	s := &AnnexBWriter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateAnnexBFile truncates or creates path.
func CreateAnnexBFile(path string) (*AnnexBWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return NewAnnexBWriter(f), nil
}

func (s *AnnexBWriter) OnFormat(media.Format) {}

func (s *AnnexBWriter) OnAccessUnit(u media.AccessUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	n, err := s.w.Write(u.Payload)
	s.bytes += int64(n)
	if err != nil {
		return err
	}
	if u.IsKeyframe() {
		return s.w.Flush()
	}
	return nil
}

// Bytes returns the number of payload bytes written.
func (s *AnnexBWriter) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *AnnexBWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
