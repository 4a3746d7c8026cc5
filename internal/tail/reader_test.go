package tail

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendString(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestReadFromExcludesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Journal.log")
	appendString(t, path, "one\ntwo\nthr")

	res, err := ReadFrom(path, domain.Watermark{})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, res.Lines)
	assert.Equal(t, domain.Watermark{Offset: 8, Line: 2}, res.End)

	// Nothing new until the writer finishes the line
	again, err := ReadFrom(path, res.End)
	require.NoError(t, err)
	assert.Empty(t, again.Lines)
	assert.Equal(t, res.End, again.End)

	appendString(t, path, "ee\n")
	final, err := ReadFrom(path, again.End)
	require.NoError(t, err)
	assert.Equal(t, []string{"three"}, final.Lines)
	assert.Equal(t, domain.Watermark{Offset: 14, Line: 3}, final.End)
}

func TestReadFromNeverSkipsOrRepeats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Journal.log")

	var all []string
	wm := domain.Watermark{}
	for batch := 0; batch < 5; batch++ {
		var b strings.Builder
		for i := 0; i < batch+1; i++ {
			b.WriteString("line\n")
		}
		appendString(t, path, b.String())

		res, err := ReadFrom(path, wm)
		require.NoError(t, err)
		assert.Equal(t, wm, res.Start)
		all = append(all, res.Lines...)
		wm = res.End
	}

	assert.Len(t, all, 15)
	assert.Equal(t, int64(15), wm.Line)
	assert.Equal(t, int64(15*5), wm.Offset)
}

func TestReadFromStripsCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Journal.log")
	appendString(t, path, "{\"a\":1}\r\n{\"b\":2}\r\n")

	res, err := ReadFrom(path, domain.Watermark{})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, res.Lines)
	assert.Equal(t, int64(18), res.End.Offset)
}

func TestReadFromErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadFrom(filepath.Join(dir, "missing.log"), domain.Watermark{})
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	path := filepath.Join(dir, "short.log")
	appendString(t, path, "a\n")
	_, err = ReadFrom(path, domain.Watermark{Offset: 100, Line: 10})
	assert.True(t, errors.Is(err, ErrTruncated))
}

func TestOffsetForLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Journal.log")
	appendString(t, path, "aa\nbbb\ncccc\ndd")

	tests := []struct {
		lines int64
		want  domain.Watermark
	}{
		{0, domain.Watermark{}},
		{1, domain.Watermark{Offset: 3, Line: 1}},
		{3, domain.Watermark{Offset: 12, Line: 3}},
		// The fragment "dd" is not a complete line
		{10, domain.Watermark{Offset: 12, Line: 3}},
	}
	for _, tt := range tests {
		got, err := OffsetForLine(path, tt.lines)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "lines=%d", tt.lines)
	}

	// Resuming from a converted line checkpoint yields exactly the remainder
	wm, err := OffsetForLine(path, 2)
	require.NoError(t, err)
	res, err := ReadFrom(path, wm)
	require.NoError(t, err)
	assert.Equal(t, []string{"cccc"}, res.Lines)
}

func TestReadFromOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Journal.log")
	big := strings.Repeat("x", maxLineSize+10)
	appendString(t, path, big+"\nnext\n")

	res, err := ReadFrom(path, domain.Watermark{})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "next", res.Lines[1])
	assert.Equal(t, int64(len(big)+1+5), res.End.Offset)
}
