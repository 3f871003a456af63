// Package zip bundles generated assets into a single downloadable archive.
// Carousel downloads use it to deliver every slide in one response.
package zip

import (
	"archive/zip"
	"bytes"
)

// Asset is one archive entry. MIME is informational; the archive stores
// bytes as-is.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs the assets into a zip in the given order. Entries
// without a filename or data are skipped.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		if asset.Filename == "" || len(asset.Data) == 0 {
			continue
		}
		w, err := zw.Create(asset.Filename)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
