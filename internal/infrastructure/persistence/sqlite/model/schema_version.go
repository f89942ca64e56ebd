package model

type SchemaVersion struct {
	Version   int    `gorm:"column:version;primaryKey;autoIncrement:false"`
	Name      string `gorm:"column:name;type:text;not null"`
	AppliedAt int64  `gorm:"column:applied_at;not null"`
}

func (SchemaVersion) TableName() string {
	return "schema_versions"
}
