package model

// JobRecords is a slice of JobRecord.
type JobRecords []JobRecord

// JobRecord is one historical job row read from slurmdbd's
// <cluster>_job_table, joined with <cluster>_assoc_table for the owning
// username.
//
// Columns reference (job_table):
//   - id_job:    int unsigned, the scheduler-assigned job id (recycles)
//   - job_name:  tinytext
//   - id_assoc:  int unsigned, association to account/user
//   - state:     int unsigned, slurm job state code (flags in high bits)
//   - exit_code: int, wait status of the batch step
//   - time_end:  bigint unsigned, unix seconds, 0 while still running
type JobRecord struct {
	IDJob    uint64 `gorm:"column:id_job" json:"id_job"`
	JobName  string `gorm:"column:job_name" json:"job_name"`
	IDAssoc  uint64 `gorm:"column:id_assoc" json:"id_assoc"`
	State    uint64 `gorm:"column:state" json:"state"`
	ExitCode int64  `gorm:"column:exit_code" json:"exit_code"`
	TimeEnd  uint64 `gorm:"column:time_end" json:"time_end"`
	User     string `gorm:"column:user" json:"user"`
}
