package sensor

import (
	"bytes"
	"errors"
	"io"
)

const (
	readChunkSize = 4096
	maxFrameSize  = 10 * 1024 * 1024
)

// JPEG markers
var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

var ErrFrameTooLarge = errors.New("mjpeg frame exceeds size limit")

// Splitter extracts individual JPEG images from a concatenated MJPEG byte
// stream, as written by rpicam-vid or ffmpeg to stdout.
type Splitter struct {
	r       io.Reader
	buf     []byte
	pending []byte
	maxSize int
}

func NewSplitter(r io.Reader) *Splitter {
	return &Splitter{
		r:       r,
		buf:     make([]byte, readChunkSize),
		maxSize: maxFrameSize,
	}
}

// Next returns the next complete JPEG image. Bytes before a start-of-image
// marker are discarded. A frame growing beyond the size limit is dropped and
// reported once with ErrFrameTooLarge; the next call resynchronizes.
func (s *Splitter) Next() ([]byte, error) {
	for {
		if frame, ok := s.extract(); ok {
			return frame, nil
		}
		if len(s.pending) > s.maxSize {
			s.pending = nil
			return nil, ErrFrameTooLarge
		}

		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.buf[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Splitter) extract() ([]byte, bool) {
	start := bytes.Index(s.pending, soi)
	if start == -1 {
		// keep a trailing 0xFF in case the marker is split across reads
		if n := len(s.pending); n > 0 && s.pending[n-1] == 0xFF {
			s.pending = s.pending[n-1:]
		} else {
			s.pending = s.pending[:0]
		}
		return nil, false
	}
	if start > 0 {
		s.pending = s.pending[start:]
	}

	end, ok := frameEnd(s.pending)
	if !ok {
		return nil, false
	}

	frame := make([]byte, end)
	copy(frame, s.pending[:end])

	// anything after EOI is the start of the next frame
	remaining := len(s.pending) - end
	copy(s.pending, s.pending[end:])
	s.pending = s.pending[:remaining]
	return frame, true
}

// frameEnd returns the length of the JPEG image at the start of b, which
// begins with SOI. Marker segments are skipped by their length, so an EOI
// inside one (an EXIF thumbnail) does not end the frame. It reports false
// until the whole image is in b.
func frameEnd(b []byte) (int, bool) {
	p := len(soi)
	for {
		if p+1 >= len(b) {
			return 0, false
		}
		if b[p] != 0xFF {
			// not a marker where one belongs, fall back to the next EOI
			return nextEOI(b, p)
		}
		m := b[p+1]
		switch {
		case m == 0xFF: // fill byte
			p++
			continue
		case m == 0xD9:
			return p + 2, true
		case m == 0x01 || isRST(m):
			p += 2
			continue
		}

		if p+3 >= len(b) {
			return 0, false
		}
		n := int(b[p+2])<<8 | int(b[p+3])
		if n < 2 {
			return nextEOI(b, p)
		}
		p += 2 + n
		if m != 0xDA {
			continue
		}

		// Entropy-coded data after SOS runs to the next marker that is
		// neither a stuffed zero nor a restart marker.
		for {
			i := bytes.IndexByte(b[min(p, len(b)):], 0xFF)
			if i == -1 || p+i+1 >= len(b) {
				return 0, false
			}
			p += i
			next := b[p+1]
			if next == 0x00 || isRST(next) {
				p += 2
				continue
			}
			if next == 0xFF {
				p++
				continue
			}
			break
		}
	}
}

func nextEOI(b []byte, from int) (int, bool) {
	i := bytes.Index(b[from:], eoi)
	if i == -1 {
		return 0, false
	}
	return from + i + len(eoi), true
}

func isRST(m byte) bool {
	return m >= 0xD0 && m <= 0xD7
}
