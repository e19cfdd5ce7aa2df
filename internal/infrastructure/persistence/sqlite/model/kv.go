package model

// KV backs ports.Cache. Transforms store input fingerprints here.
type KV struct {
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Value     string `gorm:"column:value;type:text;not null"`
	ExpiresAt string `gorm:"column:expires_at;type:text"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (KV) TableName() string {
	return "kv_cache"
}
