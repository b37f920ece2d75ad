// Package barcode defines the scan-format filter a session is configured with.
//
// Values match the detection library's format constants so a filter can be
// handed to the pipeline unchanged.
package barcode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownFormat = errors.New("barcode: unknown format")

// Format is a bitmask of barcode symbologies. AllFormats (zero) accepts every
// symbology.
type Format int

const (
	AllFormats Format = 0
	Code128    Format = 1
	Code39     Format = 2
	Code93     Format = 4
	Codabar    Format = 8
	DataMatrix Format = 16
	EAN13      Format = 32
	EAN8       Format = 64
	ITF        Format = 128
	QRCode     Format = 256
	UPCA       Format = 512
	UPCE       Format = 1024
	PDF417     Format = 2048
	Aztec      Format = 4096
)

var formatNames = map[Format]string{
	Code128:    "code_128",
	Code39:     "code_39",
	Code93:     "code_93",
	Codabar:    "codabar",
	DataMatrix: "data_matrix",
	EAN13:      "ean_13",
	EAN8:       "ean_8",
	ITF:        "itf",
	QRCode:     "qr_code",
	UPCA:       "upc_a",
	UPCE:       "upc_e",
	PDF417:     "pdf417",
	Aztec:      "aztec",
}

const allFormatsName = "all_formats"

// Parse folds format names into one filter. An empty list, or any entry naming
// all_formats, yields AllFormats.
func Parse(names []string) (Format, error) {
	var out Format
	for _, raw := range names {
		name := normalizeName(raw)
		if name == "" {
			continue
		}
		if name == allFormatsName || name == "all" {
			return AllFormats, nil
		}
		f, ok := lookup(name)
		if !ok {
			return AllFormats, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
		}
		out |= f
	}
	return out, nil
}

// ParseOne resolves a single symbology name.
func ParseOne(name string) (Format, error) {
	f, ok := lookup(normalizeName(name))
	if !ok {
		return AllFormats, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// Accepts reports whether a detection of symbology sym passes the filter.
func (f Format) Accepts(sym Format) bool {
	if f == AllFormats {
		return true
	}
	return f&sym != 0
}

// Names lists the symbologies in the filter in ascending bit order.
func (f Format) Names() []string {
	if f == AllFormats {
		return []string{allFormatsName}
	}
	bits := make([]Format, 0, len(formatNames))
	for bit := range formatNames {
		if f&bit != 0 {
			bits = append(bits, bit)
		}
	}
	sort.Slice(bits, func(i, j int) bool { return bits[i] < bits[j] })
	out := make([]string, 0, len(bits))
	for _, bit := range bits {
		out = append(out, formatNames[bit])
	}
	return out
}

func (f Format) String() string {
	return strings.Join(f.Names(), "|")
}

func lookup(name string) (Format, bool) {
	for f, n := range formatNames {
		if n == name {
			return f, true
		}
	}
	return AllFormats, false
}

func normalizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(name, "-", "_")
}
