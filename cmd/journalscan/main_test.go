package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SteelMorgan/journal-ingest/internal/discovery"
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJournal(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func TestScanPrintsJSONLines(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log",
		`{"timestamp":"2024-03-01T10:00:00Z","event":"Commander","FID":"F1","Name":"Jameson"}`,
		`{"timestamp":"2024-03-01T10:01:00Z","event":"FSDJump","StarSystem":"Sol","SystemAddress":10477373803}`,
		`{"timestamp":"2024-03-01T10:02:00Z","event":"Music","MusicTrack":"NoTrack"}`,
	)
	writeJournal(t, dir, "Journal.2024-03-02T100000.01.log",
		`{"timestamp":"2024-03-02T10:00:00Z","event":"Docked","StationName":"Abraham Lincoln","StarSystem":"Sol"}`,
	)

	filter, err := parseKinds("location,docked")
	require.NoError(t, err)

	var buf bytes.Buffer
	done, err := scan(context.Background(), dir, false, newPrinter(&buf, filter))
	require.NoError(t, err)
	assert.Equal(t, 3, done.Events)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, string(domain.KindLocation), first["kind"])
	assert.Contains(t, lines[1], "Abraham Lincoln")
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := scan(context.Background(), filepath.Join(t.TempDir(), "nope"), false, newPrinter(&bytes.Buffer{}, nil))
	assert.ErrorIs(t, err, discovery.ErrJournalDirMissing)
}

func TestParseKinds(t *testing.T) {
	filter, err := parseKinds("")
	require.NoError(t, err)
	assert.Nil(t, filter)

	filter, err = parseKinds(" location , shutdown")
	require.NoError(t, err)
	assert.True(t, filter[domain.KindLocation])
	assert.True(t, filter[domain.KindShutdown])

	_, err = parseKinds("location,warp")
	assert.Error(t, err)
}
