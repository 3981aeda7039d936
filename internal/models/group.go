package models

// Duplicate is one redundant member of a group, annotated with the
// similarity and reason recorded at grouping time.
type Duplicate struct {
	File       *FileRecord `json:"file"`
	Similarity float64     `json:"similarity"`
	Reason     string      `json:"reason"`
}

// DuplicateGroup is an equivalence class of files considered duplicates of
// each other, with one designated file to keep. Groups are recomputed on
// every processing run and carry no identity across runs.
type DuplicateGroup struct {
	ID             string      `json:"id"`
	KeepFile       *FileRecord `json:"keep_file"`
	Duplicates     []Duplicate `json:"duplicates"`
	TotalSizeSaved int64       `json:"total_size_saved"`
}

// Members returns every file in the group, keep-file first.
func (g *DuplicateGroup) Members() []*FileRecord {
	members := make([]*FileRecord, 0, len(g.Duplicates)+1)
	members = append(members, g.KeepFile)
	for _, d := range g.Duplicates {
		members = append(members, d.File)
	}
	return members
}
