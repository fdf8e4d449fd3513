package storage

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// PhotoMetadata is what a photo's EXIF block says about where and when it
// was taken. Fields are nil when the photo does not carry them.
type PhotoMetadata struct {
	Latitude   *float64
	Longitude  *float64
	CapturedAt *time.Time
}

// HasLocation reports whether both coordinates are present.
func (m PhotoMetadata) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// ErrNoMetadata is returned when the photo has no readable EXIF block.
var ErrNoMetadata = errors.New("photo carries no EXIF metadata")

// ReadPhotoMetadata decodes EXIF from r. Missing GPS or timestamp tags are
// not an error.
func ReadPhotoMetadata(r io.Reader) (PhotoMetadata, error) {
	x, err := exif.Decode(r)
	if err != nil {
		if exif.IsCriticalError(err) {
			return PhotoMetadata{}, fmt.Errorf("%w: %v", ErrNoMetadata, err)
		}
		if x == nil {
			return PhotoMetadata{}, ErrNoMetadata
		}
	}

	var meta PhotoMetadata
	if lat, lng, err := x.LatLong(); err == nil {
		meta.Latitude, meta.Longitude = &lat, &lng
	}
	if taken, err := x.DateTime(); err == nil {
		utc := taken.UTC()
		meta.CapturedAt = &utc
	}
	return meta, nil
}
