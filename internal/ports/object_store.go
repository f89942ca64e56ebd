package ports

import (
	"context"
	"time"

	"stashworker/internal/domain/offline"
)

// CleanupReport counts rows removed per collection by CleanupOldData.
type CleanupReport struct {
	Baskets     int64
	Images      int64
	LargeImages int64
	Preferences int64
}

func (r CleanupReport) Total() int64 {
	return r.Baskets + r.Images + r.LargeImages + r.Preferences
}

// ObjectStore is the durable store for entities. Get* never fails for a
// missing id; it reports found=false instead. Save* is an upsert.
type ObjectStore interface {
	SaveBasket(ctx context.Context, basket offline.Basket) (offline.Basket, error)
	GetBasket(ctx context.Context, id string) (offline.Basket, bool, error)
	AllBaskets(ctx context.Context) ([]offline.Basket, error)
	DeleteBasket(ctx context.Context, id string) error

	SaveImage(ctx context.Context, image offline.ImageBlob) (offline.ImageBlob, error)
	GetImage(ctx context.Context, id string) (offline.ImageBlob, bool, error)
	AllImages(ctx context.Context) ([]offline.ImageBlob, error)
	DeleteImage(ctx context.Context, id string) error

	SavePreference(ctx context.Context, pref offline.Preference) (offline.Preference, error)
	GetPreference(ctx context.Context, key string) (offline.Preference, bool, error)
	AllPreferences(ctx context.Context) ([]offline.Preference, error)
	DeletePreference(ctx context.Context, key string) error

	CleanupOldData(ctx context.Context, maxAge time.Duration) (CleanupReport, error)
}
