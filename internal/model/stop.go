package model

// StopType categorizes a stop for iconography and filtering
type StopType string

const (
	StopTypeHome     StopType = "home"
	StopTypeSchool   StopType = "school"
	StopTypeActivity StopType = "activity"
	StopTypeCustom   StopType = "custom"
)

// Icon returns the symbolic icon name rendered next to a stop of this type
func (t StopType) Icon() string {
	switch t {
	case StopTypeHome:
		return "house.fill"
	case StopTypeSchool:
		return "building.columns.fill"
	case StopTypeActivity:
		return "figure.run"
	default:
		return "mappin"
	}
}

// IsValid reports whether t is one of the known stop types
func (t StopType) IsValid() bool {
	switch t {
	case StopTypeHome, StopTypeSchool, StopTypeActivity, StopTypeCustom:
		return true
	}
	return false
}

// Stop is one leg of a run. Its position in ScheduledRun.Stops is its
// execution order.
type Stop struct {
	ID               string   `json:"id,omitempty"`
	Name             string   `json:"name"`
	StopType         StopType `json:"stop_type"`
	AssignedChild    string   `json:"assigned_child,omitempty"`
	Task             string   `json:"task,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	IsCompleted      bool     `json:"is_completed"`
}

// Child is a child profile that stops can be assigned to
type Child struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
