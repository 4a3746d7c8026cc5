package domain

import "time"

// LogFile is a journal file discovered in the journal directory
type LogFile struct {
	Name      string    // Filename, unique within the directory
	Path      string    // Absolute path
	Created   time.Time // Creation timestamp embedded in the filename (mtime fallback)
	Part      int       // Part number suffix (Journal.<ts>.<NN>.log)
	Size      int64     // Last known size
	ModTime   time.Time // Last known modification time
	Timestamp bool      // Created was parsed from the filename rather than mtime
}

// Before reports whether f was created before other.
// Order: creation time (mtime only when the name carries no timestamp),
// part number, filename. Appending to a file never changes its position.
func (f LogFile) Before(other LogFile) bool {
	if !f.Created.Equal(other.Created) {
		return f.Created.Before(other.Created)
	}
	if f.Part != other.Part {
		return f.Part < other.Part
	}
	return f.Name < other.Name
}

// Watermark is the resume cursor of one file.
// Offset is authoritative; Line is the number of complete lines before Offset.
type Watermark struct {
	Offset int64 `json:"offset"`
	Line   int64 `json:"line"`
}

// Checkpoints maps a journal filename to its last fully-processed line index
// (exclusive upper bound).
type Checkpoints map[string]int64

// Clone returns an independent copy
func (c Checkpoints) Clone() Checkpoints {
	out := make(Checkpoints, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
