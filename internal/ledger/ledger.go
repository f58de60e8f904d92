// Package ledger is a supplementary, non-authoritative crawl-progress
// record. The filesystem completion markers remain the sole correctness
// authority; this table exists purely so an operator can query progress
// with SQL without walking the rawdata tree.
package ledger

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CrawlProgress is one row per artist, updated best-effort as the worker
// finishes. It is never consulted to decide whether to skip an artist —
// that decision belongs solely to the .completed marker.
type CrawlProgress struct {
	ArtistID    string `gorm:"primaryKey;column:artist_id"`
	WorksSeen   int
	TilesSaved  int
	Completed   bool
	LastUpdated time.Time
}

func (CrawlProgress) TableName() string { return "crawl_progress" }

// Ledger wraps a GORM MySQL connection. A nil *Ledger is valid and every
// method degrades to a no-op; the ledger must never affect crawl
// correctness.
type Ledger struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the CrawlProgress table. Returns an
// error only on genuine connection/migration failure; callers should treat
// a failed Open as "run without a ledger" rather than aborting the crawl.
func Open(dsn string) (*Ledger, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CrawlProgress{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Upsert records the current progress snapshot for artistID.
func (l *Ledger) Upsert(artistID string, worksSeen, tilesSaved int, completed bool) {
	if l == nil || l.db == nil {
		return
	}
	row := CrawlProgress{
		ArtistID:    artistID,
		WorksSeen:   worksSeen,
		TilesSaved:  tilesSaved,
		Completed:   completed,
		LastUpdated: time.Now(),
	}
	l.db.Save(&row)
}
