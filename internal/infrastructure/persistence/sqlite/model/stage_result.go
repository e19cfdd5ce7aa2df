package model

type StageResult struct {
	StageResultID uint64 `gorm:"column:stage_result_id;primaryKey;autoIncrement"`
	RunID         string `gorm:"column:run_id;type:text;not null;index"`
	Stage         string `gorm:"column:stage;type:text;not null"`
	Name          string `gorm:"column:name;type:text;not null"`
	Status        string `gorm:"column:status;type:text;not null"`
	RowsIn        int64  `gorm:"column:rows_in;not null;default:0"`
	RowsOut       int64  `gorm:"column:rows_out;not null;default:0"`
	BadRows       int64  `gorm:"column:bad_rows;not null;default:0"`
	Dropped       int64  `gorm:"column:dropped;not null;default:0"`
	DurationMS    int64  `gorm:"column:duration_ms;not null;default:0"`
	Detail        string `gorm:"column:detail;type:text;not null;default:''"`
	RecordedAt    string `gorm:"column:recorded_at;type:text;not null"`
}

func (StageResult) TableName() string {
	return "stage_results"
}
