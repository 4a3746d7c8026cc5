package tail

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
)

// maxLineSize bounds a single journal line
const maxLineSize = 1024 * 1024

// ReadError is a failure reading one file. It never aborts sibling files.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ErrTruncated means the file is shorter than the watermark
var ErrTruncated = errors.New("file shorter than watermark")

// Result is the outcome of one read
type Result struct {
	Lines []string         // Complete lines, without the trailing newline
	Start domain.Watermark // Watermark the read started from
	End   domain.Watermark // Watermark after the last complete line
	Size  int64            // File size observed at read time
}

// ReadFrom returns the complete lines appended after from, up to the file
// size observed when the read started. A trailing fragment without a newline
// is neither returned nor counted in End.
func ReadFrom(path string, from domain.Watermark) (Result, error) {
	res := Result{Start: from, End: from}

	f, err := os.Open(path)
	if err != nil {
		return res, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return res, &ReadError{Path: path, Err: err}
	}
	res.Size = stat.Size()

	if stat.Size() < from.Offset {
		return res, &ReadError{Path: path, Err: fmt.Errorf("%w: size %d < offset %d", ErrTruncated, stat.Size(), from.Offset)}
	}
	if stat.Size() == from.Offset {
		return res, nil
	}

	if _, err := f.Seek(from.Offset, io.SeekStart); err != nil {
		return res, &ReadError{Path: path, Err: fmt.Errorf("seek: %w", err)}
	}

	reader := bufio.NewReaderSize(io.LimitReader(f, stat.Size()-from.Offset), 64*1024)
	offset := from.Offset
	line := from.Line

	for {
		chunk, n, complete, err := readLine(reader)
		if complete {
			offset += n
			line++
			res.Lines = append(res.Lines, string(trimEOL(chunk)))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			res.End = domain.Watermark{Offset: offset, Line: line}
			return res, &ReadError{Path: path, Err: err}
		}
	}

	res.End = domain.Watermark{Offset: offset, Line: line}
	return res, nil
}

// OffsetForLine converts a line checkpoint into a byte watermark by counting
// complete lines from the start of the file. If the file holds fewer complete
// lines, the returned watermark stops at the last complete line.
func OffsetForLine(path string, lines int64) (domain.Watermark, error) {
	if lines <= 0 {
		return domain.Watermark{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.Watermark{}, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	var wm domain.Watermark
	for wm.Line < lines {
		_, n, complete, err := readLine(reader)
		if complete {
			wm.Offset += n
			wm.Line++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return wm, nil
			}
			return wm, &ReadError{Path: path, Err: err}
		}
	}
	return wm, nil
}

// readLine reads through the next '\n' and reports how many bytes it
// consumed. Content beyond maxLineSize is dropped but still counted in n.
func readLine(r *bufio.Reader) (line []byte, n int64, complete bool, err error) {
	for {
		frag, err := r.ReadSlice('\n')
		n += int64(len(frag))
		if len(line) < maxLineSize {
			line = append(line, frag...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return line, n, false, err
		}
		return line, n, true, nil
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
