package model

// CachedResponse is one response stored in a named cache generation.
type CachedResponse struct {
	CacheName string `gorm:"column:cache_name;type:text;primaryKey"`
	URL       string `gorm:"column:url;type:text;primaryKey"`
	Status    int    `gorm:"column:status;not null"`
	Header    string `gorm:"column:header;type:text;not null"`
	Body      []byte `gorm:"column:body;type:blob"`
	StoredAt  int64  `gorm:"column:stored_at;not null"`
}

func (CachedResponse) TableName() string {
	return "cached_responses"
}

type CacheGeneration struct {
	Name      string `gorm:"column:name;type:text;primaryKey"`
	CreatedAt int64  `gorm:"column:created_at;not null"`
}

func (CacheGeneration) TableName() string {
	return "cache_generations"
}
