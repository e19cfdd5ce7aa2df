package model

type PipelineRun struct {
	RunID         string  `gorm:"column:run_id;type:text;primaryKey"`
	Dataset       string  `gorm:"column:dataset;type:text;not null;index"`
	Manifest      string  `gorm:"column:manifest;type:text;not null"`
	Status        string  `gorm:"column:status;type:text;not null;index"`
	ErrorStage    string  `gorm:"column:error_stage;type:text;not null;default:''"`
	ErrorCategory string  `gorm:"column:error_category;type:text;not null;default:''"`
	ErrorMessage  string  `gorm:"column:error_message;type:text;not null;default:''"`
	StartedAt     string  `gorm:"column:started_at;type:text;not null;index"`
	FinishedAt    *string `gorm:"column:finished_at;type:text"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
