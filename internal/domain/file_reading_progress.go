package domain

// Progress represents the reading progress of one file within a batch
type Progress struct {
	File        string `json:"file" msgpack:"file"`
	CurrentLine int64  `json:"current_line" msgpack:"current_line"` // 1-based line just processed
	TotalLines  int64  `json:"total_lines" msgpack:"total_lines"`   // Complete lines in the file at read time
	FileIndex   int    `json:"file_index" msgpack:"file_index"`     // 0-based index within the batch
	TotalFiles  int    `json:"total_files" msgpack:"total_files"`
}
