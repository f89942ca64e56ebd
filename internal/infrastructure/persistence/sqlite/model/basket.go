package model

type Basket struct {
	ID           string `gorm:"column:id;type:text;primaryKey"`
	OwnerID      string `gorm:"column:owner_id;type:text;not null;default:''"`
	Data         string `gorm:"column:data;type:text;not null"`
	LastModified int64  `gorm:"column:last_modified;not null"`
}

func (Basket) TableName() string {
	return "baskets"
}
