package downloads

// InstallStatus represents the current state of a managed pipeline.
type InstallStatus string

const (
	StatusPending     InstallStatus = "pending"
	StatusDownloading InstallStatus = "downloading"
	StatusExtracting  InstallStatus = "extracting"
	StatusComplete    InstallStatus = "complete"
	StatusError       InstallStatus = "error"
	StatusCancelled   InstallStatus = "cancelled"
)

// Progress represents the current progress of a single pipeline.
type Progress struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     InstallStatus `json:"status"`
	Message    string        `json:"message"`
	BytesDone  int64         `json:"bytes_done"`
	TotalBytes int64         `json:"total_bytes"`
	Percent    float64       `json:"percent"`
	Speed      int64         `json:"speed"` // bytes/sec
	Error      string        `json:"error,omitempty"`
}

// OverallProgress represents the combined progress of all managed pipelines.
type OverallProgress struct {
	Total          int        `json:"total"`
	CompletedCount int        `json:"completed_count"`
	OverallPercent float64    `json:"overall_percent"`
	Installs       []Progress `json:"installs"`
	Installing     bool       `json:"installing"`
}

func percent(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(current) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
