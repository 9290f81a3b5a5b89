package fetcher

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Placemark is one point extracted from a field-map export. Category is
// the folder path the placemark sat under, joined with " / ", which is how
// field maps encode colony status and grouping. StyleURL is the pin
// style reference with its leading "#" stripped; maps that name their
// styles carry a second grouping signal there.
type Placemark struct {
	Name        string
	Description string
	Category    string
	StyleURL    string
	Lat         float64
	Lng         float64
}

// ErrNoPlacemarks marks a KML with nothing extractable. Shared map links
// export as a bare NetworkLink reference instead of real data, and that
// mistake needs its own message.
var ErrNoPlacemarks = eris.New("kml: no placemarks found (file may only reference a network link)")

type kmlFile struct {
	Document   kmlContainer   `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlContainer struct {
	Name       string         `xml:"name"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	StyleURL    string `xml:"styleUrl"`
	Coordinates string `xml:"Point>coordinates"`
}

// ReadKML parses a KML stream into placemarks, walking folders
// recursively. Placemarks without a point (lines, polygons) are skipped.
func ReadKML(r io.Reader) ([]Placemark, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "kml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var doc kmlFile
	if err := decoder.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "kml: decode")
	}

	var out []Placemark
	var err error
	// The document name is the map title, not a category.
	out, err = collectPlacemarks(out, "", doc.Document.Placemarks)
	if err != nil {
		return nil, err
	}
	for _, f := range append(doc.Document.Folders, doc.Folders...) {
		out, err = walkFolder(out, "", f)
		if err != nil {
			return nil, err
		}
	}
	out, err = collectPlacemarks(out, "", doc.Placemarks)
	if err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, ErrNoPlacemarks
	}
	return out, nil
}

func walkFolder(out []Placemark, path string, folder kmlContainer) ([]Placemark, error) {
	name := strings.TrimSpace(folder.Name)
	if path != "" && name != "" {
		path = path + " / " + name
	} else if name != "" {
		path = name
	}

	out, err := collectPlacemarks(out, path, folder.Placemarks)
	if err != nil {
		return nil, err
	}
	for _, sub := range folder.Folders {
		out, err = walkFolder(out, path, sub)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func collectPlacemarks(out []Placemark, category string, marks []kmlPlacemark) ([]Placemark, error) {
	for _, m := range marks {
		coords := strings.TrimSpace(m.Coordinates)
		if coords == "" {
			continue
		}
		lng, lat, err := parseCoordinates(coords)
		if err != nil {
			return nil, eris.Wrapf(err, "kml: placemark %q", strings.TrimSpace(m.Name))
		}
		out = append(out, Placemark{
			Name:        strings.TrimSpace(m.Name),
			Description: strings.TrimSpace(m.Description),
			Category:    category,
			StyleURL:    strings.TrimPrefix(strings.TrimSpace(m.StyleURL), "#"),
			Lat:         lat,
			Lng:         lng,
		})
	}
	return out, nil
}

// parseCoordinates parses a KML "lng,lat[,alt]" coordinate tuple.
func parseCoordinates(s string) (lng, lat float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return 0, 0, eris.Errorf("malformed coordinates %q", s)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Errorf("malformed longitude %q", parts[0])
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Errorf("malformed latitude %q", parts[1])
	}
	return lng, lat, nil
}

// ReadKMZ extracts the KML entry from a KMZ archive and parses it.
func ReadKMZ(path string) ([]Placemark, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrap(err, "kmz: open archive")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".kml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrap(err, "kmz: open kml entry")
		}
		marks, err := ReadKML(rc)
		rc.Close() //nolint:errcheck
		return marks, err
	}

	return nil, eris.Errorf("kmz: no .kml entry in %s", filepath.Base(path))
}

// ExtractPlacemarks reads placemarks from a .kml or .kmz file.
func ExtractPlacemarks(path string) ([]Placemark, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".kml":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "kml: open file")
		}
		defer f.Close() //nolint:errcheck
		return ReadKML(f)
	case ".kmz":
		return ReadKMZ(path)
	default:
		return nil, eris.Errorf("kml: unsupported extension %q", filepath.Ext(path))
	}
}
