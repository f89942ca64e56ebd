package model

type Image struct {
	ID           string `gorm:"column:id;type:text;primaryKey"`
	ContentType  string `gorm:"column:content_type;type:text;not null;default:''"`
	Data         []byte `gorm:"column:data;type:blob"`
	Size         int64  `gorm:"column:size;not null"`
	LastModified int64  `gorm:"column:last_modified;not null"`
}

func (Image) TableName() string {
	return "images"
}
