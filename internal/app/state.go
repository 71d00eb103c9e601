package app

// JobState is the display state of one customer job.
type JobState int

const (
	Queued JobState = iota
	Running
	Succeeded
	BusinessFailed
	ApplicationFailed
)

func (s JobState) String() string {
	switch s {
	case Running:
		return "Running"
	case Succeeded:
		return "Success"
	case BusinessFailed:
		return "Business failure"
	case ApplicationFailed:
		return "Application failure"
	}
	return "Queued"
}
