package bus

// Task lifecycle topics.
const (
	TopicTaskCreated   = "task.created"
	TopicTaskCompleted = "task.completed"
	TopicTaskDeleted   = "task.deleted"
)

// TopicScheduleImported is published once per finished schedule import.
const TopicScheduleImported = "schedule.imported"

// TaskEvent is the payload of every task.* topic.
type TaskEvent struct {
	TaskID  int64  `json:"task_id"`
	Time    string `json:"time,omitempty"`
	Content string `json:"content,omitempty"`
}

// ScheduleImportedEvent summarizes one import run.
type ScheduleImportedEvent struct {
	BatchID  string `json:"batch_id"`
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}
