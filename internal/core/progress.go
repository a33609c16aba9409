package core

// Phase is the stage a resource is in.
type Phase string

const (
	PhaseBuilding      Phase = "building"
	PhaseMaterializing Phase = "materializing"
	PhaseImporting     Phase = "importing"
	PhaseComplete      Phase = "complete"
	PhaseFailed        Phase = "failed"
)

// Progress is a point-in-time view of one resource.
type Progress struct {
	Resource   string `json:"resource"`
	Table      string `json:"table,omitempty"`
	Phase      Phase  `json:"phase"`
	Rows       int    `json:"rows"`
	Inserted   int    `json:"inserted"`
	Skipped    int    `json:"skipped"`
	BytesRead  int64  `json:"bytesRead"`
	BytesTotal int64  `json:"bytesTotal"`
	Error      string `json:"error,omitempty"`
}

// Percent estimates completion from bytes read. It is 0 when the size is
// unknown and 100 once the resource is complete.
func (p Progress) Percent() int {
	if p.Phase == PhaseComplete {
		return 100
	}
	if p.BytesTotal <= 0 {
		return 0
	}
	return int(min(p.BytesRead*100/p.BytesTotal, 100))
}

// ProgressFunc receives progress updates. With more than one worker it is
// called from several goroutines.
type ProgressFunc func(Progress)
