package domain

import "time"

// SyncStats holds statistics about a crawl/sync operation.
type SyncStats struct {
	SiteID   LocalID
	Pages    int
	Forums   int
	Threads  int
	Posts    int
	Media    int
	New      int
	Updated  int
	Duration time.Duration
}

// DownloadStats holds the aggregate outcome of a media download run.
type DownloadStats struct {
	Total      int
	Downloaded int
	Failed     int
	Skipped    int
	Duration   time.Duration
}

// Progress is reported at each page or media iteration boundary.
type Progress struct {
	Processed int
	Total     int
	Step      string
}

// ProgressFunc receives progress updates. A nil ProgressFunc disables
// reporting.
type ProgressFunc func(Progress)

// SyncEvent is the completion signal handed to the job/event collaborator.
type SyncEvent struct {
	Operation string         `json:"operation"`
	SiteID    LocalID        `json:"site_id"`
	ThreadID  *LocalID       `json:"thread_id,omitempty"`
	Sync      *SyncStats     `json:"sync,omitempty"`
	Download  *DownloadStats `json:"download,omitempty"`
}
