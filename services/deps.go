package services

import (
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Deps are the collaborators shared by the store, the ledger and the lifecycle.
type Deps struct {
	DB      *gorm.DB
	Clock   clockwork.Clock
	Gate    ModerationGate
	Items   ItemRepository
	Cache   *StatsCache
	Metrics *Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.DB != nil {
		// autoCreateTime/autoUpdateTime follow the injected clock.
		clock := d.Clock
		d.DB = d.DB.Session(&gorm.Session{
			NewDB:   true,
			NowFunc: func() time.Time { return clock.Now().UTC() },
		})
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Cache == nil {
		d.Cache = &StatsCache{}
	}
	if d.DB != nil && (d.Gate == nil || d.Items == nil) {
		catalog := NewItemCatalog(d.DB, nil)
		if d.Gate == nil {
			d.Gate = catalog
		}
		if d.Items == nil {
			d.Items = catalog
		}
	}
	return d
}
