package model

type UserPreference struct {
	Key          string `gorm:"column:key;type:text;primaryKey"`
	Value        string `gorm:"column:value;type:text;not null"`
	LastModified int64  `gorm:"column:last_modified;not null"`
}

func (UserPreference) TableName() string {
	return "user_preferences"
}
