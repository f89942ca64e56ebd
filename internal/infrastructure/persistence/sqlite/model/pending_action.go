package model

// PendingAction is a key-value row in the pending_actions collection.
type PendingAction struct {
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (PendingAction) TableName() string {
	return "pending_actions"
}
