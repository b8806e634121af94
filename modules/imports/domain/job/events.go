package job

// SubmittedEvent fires when a new import job is accepted.
type SubmittedEvent struct {
	Result Job
}

// ParsedEvent fires once the source file has been decoded into rows.
type ParsedEvent struct {
	Result Job
}

// CompletedEvent fires when a job reaches DONE.
type CompletedEvent struct {
	Result Job
}

// FailedEvent fires when a job reaches ERROR.
type FailedEvent struct {
	Result Job
	Reason string
}
