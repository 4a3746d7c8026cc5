package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFileBefore(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	early := created.Add(-time.Hour)

	tests := []struct {
		name string
		a, b LogFile
		want bool
	}{
		{
			name: "embedded timestamp wins over mtime",
			a:    LogFile{Name: "Journal.A.01.log", Created: early, ModTime: created.Add(time.Hour), Timestamp: true},
			b:    LogFile{Name: "Journal.B.01.log", Created: created, ModTime: early, Timestamp: true},
			want: true,
		},
		{
			name: "part number breaks timestamp ties",
			a:    LogFile{Name: "Journal.X.02.log", Created: created, Part: 2, Timestamp: true},
			b:    LogFile{Name: "Journal.X.01.log", Created: created, Part: 1, Timestamp: true},
			want: false,
		},
		{
			name: "filename breaks remaining ties",
			a:    LogFile{Name: "a.log", Created: created, Timestamp: true},
			b:    LogFile{Name: "b.log", Created: created, Timestamp: true},
			want: true,
		},
		{
			name: "newer mtime of the same file is not newer",
			a:    LogFile{Name: "Journal.X.01.log", Created: created, ModTime: early, Timestamp: true},
			b:    LogFile{Name: "Journal.X.01.log", Created: created, ModTime: created, Timestamp: true},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Before(tt.b))
		})
	}
}
