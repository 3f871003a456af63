package domain

import "time"

// AssetOrigin distinguishes how an asset entered the library.
type AssetOrigin string

const (
	AssetOriginGenerated AssetOrigin = "GENERATED"
	// AssetOriginPromoted marks assets produced by ephemeral utility jobs
	// whose job record has since been deleted.
	AssetOriginPromoted AssetOrigin = "PROMOTED"
)

// Asset is a long-lived library entry pointing at a stored media file.
type Asset struct {
	ID         string
	UserID     string
	JobID      string
	Origin     AssetOrigin
	StorageKey string
	SourceURL  string
	Format     string
	Width      int
	Height     int
	SizeBytes  int64
	Metadata   []byte
	CreatedAt  time.Time
}
