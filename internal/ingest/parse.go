package ingest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// hashKey fingerprints a composite logical key: SHA-256 hex truncated to
// 32 chars, same shape as the staging row hash.
func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

// ewkbPoint encodes a WGS84 point as EWKB for place location columns.
func ewkbPoint(lng, lat float64) []byte {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil
	}
	return data
}
