package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJournal(t *testing.T, dir, name string, lines ...string) domain.LogFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return domain.LogFile{Name: name, Path: path}
}

func TestScanCommanderAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	older := writeJournal(t, dir, "Journal.2024-03-01T100000.01.log",
		`{"timestamp":"2024-03-01T10:00:00Z","event":"Commander","Name":"Jameson","FID":"F100"}`,
		`{"timestamp":"2024-03-01T10:00:01Z","event":"Rank","Combat":1,"Trade":2,"Explore":3,"Empire":0,"Federation":0,"CQC":0}`,
		`{"timestamp":"2024-03-01T10:00:02Z","event":"LoadGame","Commander":"Jameson","FID":"F100","Ship":"sidewinder","Credits":1000}`,
	)
	newer := writeJournal(t, dir, "Journal.2024-03-02T100000.01.log",
		`{"timestamp":"2024-03-02T10:00:00Z","event":"Commander","Name":"Jameson","FID":"F100"}`,
		`{"timestamp":"2024-03-02T10:00:02Z","event":"LoadGame","Commander":"Jameson","FID":"F100","Ship":"anaconda","ShipName":"Big Boat","Credits":5000000}`,
		`{"timestamp":"2024-03-02T10:00:03Z","event":"Music","MusicTrack":"MainMenu"}`,
		`{"timestamp":"2024-03-02T10:00:04Z","event":"LoadG`,
	)

	snap := ScanCommander([]domain.LogFile{older, newer})
	require.NotNil(t, snap)
	assert.True(t, snap.Complete())
	assert.Equal(t, "Jameson", snap.Name)
	assert.Equal(t, "anaconda", snap.Ship)
	assert.Equal(t, "Big Boat", snap.ShipName)
	require.NotNil(t, snap.Credits)
	assert.Equal(t, int64(5000000), *snap.Credits)
	// Ranks only exist in the older file
	require.NotNil(t, snap.Ranks)
	assert.Equal(t, int64(3), snap.Ranks.Explore)
	assert.True(t, snap.AsOf.Equal(time.Date(2024, 3, 2, 10, 0, 2, 0, time.UTC)))
}

func TestScanCommanderPartial(t *testing.T) {
	dir := t.TempDir()
	only := writeJournal(t, dir, "Journal.2024-03-01T100000.01.log",
		`{"timestamp":"2024-03-01T10:00:00Z","event":"Commander","Name":"Jameson","FID":"F100"}`,
	)
	missing := domain.LogFile{Name: "gone.log", Path: filepath.Join(dir, "gone.log")}

	snap := ScanCommander([]domain.LogFile{only, missing})
	require.NotNil(t, snap)
	assert.False(t, snap.Complete())
	assert.Equal(t, "F100", snap.FID)
	assert.Nil(t, snap.Ranks)
}

func TestScanCommanderWithoutName(t *testing.T) {
	dir := t.TempDir()
	f := writeJournal(t, dir, "Journal.2024-03-01T100000.01.log",
		`{"timestamp":"2024-03-01T10:00:01Z","event":"Rank","Combat":1}`,
	)
	assert.Nil(t, ScanCommander([]domain.LogFile{f}))
}
