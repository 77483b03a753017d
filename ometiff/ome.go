package ometiff

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
)

// omeXML mirrors only the subset of the OME schema this reader consults:
// the Pixels element's declared size and per-plane IFD index, enough to
// cross-check against what the directory chain actually contains. No
// third-party XML library in the example pack covers OME-XML specifically,
// and the schema subset needed here is small enough that the standard
// library's encoding/xml is the straightforward idiomatic choice.
type omeXML struct {
	XMLName xml.Name `xml:"OME"`
	Image   struct {
		Pixels struct {
			SizeX         int     `xml:"SizeX,attr"`
			SizeY         int     `xml:"SizeY,attr"`
			SizeC         int     `xml:"SizeC,attr"`
			SizeZ         int     `xml:"SizeZ,attr"`
			SizeT         int     `xml:"SizeT,attr"`
			PhysicalSizeX float64 `xml:"PhysicalSizeX,attr"`
			PhysicalSizeY float64 `xml:"PhysicalSizeY,attr"`
			Planes        []struct {
				TheC int `xml:"TheC,attr"`
				TheZ int `xml:"TheZ,attr"`
				TheT int `xml:"TheT,attr"`
				IFD  int `xml:"IFD,attr"`
			} `xml:"Plane"`
		} `xml:"Pixels"`
	} `xml:"Image"`
}

// Metadata is the decoded subset of OME XML this reader needs.
type Metadata struct {
	SizeX, SizeY int
	ChannelCount int
	// MPPX, MPPY are the OME Pixels element's PhysicalSizeX/Y attributes
	// (microns per pixel), zero when the document does not carry them.
	MPPX, MPPY float64
}

// MissingMetadataError reports that the OME XML lacks a required
// attribute. §4.5: "missing required attributes (SizeX, SizeY) fail with
// MissingMetadata."
type MissingMetadataError struct {
	Attr string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("ometiff: OME XML missing required attribute %s", e.Attr)
}

// ParseMetadata decodes the OME XML embedded in a directory's
// ImageDescription tag, failing closed when SizeX or SizeY is absent
// rather than treating an unparsed zero as "not knowable".
func ParseMetadata(imageDescription string) (*Metadata, error) {
	var doc omeXML
	if err := xml.Unmarshal([]byte(imageDescription), &doc); err != nil {
		return nil, fmt.Errorf("ometiff: parsing OME XML: %w", err)
	}
	if doc.Image.Pixels.SizeX == 0 {
		return nil, &MissingMetadataError{Attr: "SizeX"}
	}
	if doc.Image.Pixels.SizeY == 0 {
		return nil, &MissingMetadataError{Attr: "SizeY"}
	}
	sizeC := doc.Image.Pixels.SizeC
	if sizeC == 0 {
		sizeC = 1
	}
	return &Metadata{
		SizeX:        doc.Image.Pixels.SizeX,
		SizeY:        doc.Image.Pixels.SizeY,
		ChannelCount: sizeC,
		MPPX:         doc.Image.Pixels.PhysicalSizeX,
		MPPY:         doc.Image.Pixels.PhysicalSizeY,
	}, nil
}

// AgreementError reports that the directory chain and the OME XML
// metadata disagree on level or channel geometry (§4.5: "the reader must
// refuse to open a file where the TIFF structure and the OME metadata
// disagree on level or channel counts").
type AgreementError struct {
	Reason string
}

func (e *AgreementError) Error() string {
	return "ometiff: directory chain disagrees with OME metadata: " + e.Reason
}

// ValidateAgreement checks that the first directory's reported dimensions
// match the OME metadata's base-level size, and that the number of
// directories is a multiple of the channel count (one directory per
// level per channel).
func ValidateAgreement(dirs []Directory, meta *Metadata) error {
	if len(dirs) == 0 {
		return &AgreementError{Reason: "no directories found"}
	}
	if dirs[0].Width != meta.SizeX {
		return &AgreementError{Reason: fmt.Sprintf("base width %d != OME SizeX %d", dirs[0].Width, meta.SizeX)}
	}
	if dirs[0].Height != meta.SizeY {
		return &AgreementError{Reason: fmt.Sprintf("base height %d != OME SizeY %d", dirs[0].Height, meta.SizeY)}
	}
	if meta.ChannelCount > 0 && len(dirs)%meta.ChannelCount != 0 {
		return &AgreementError{Reason: fmt.Sprintf("%d directories is not a multiple of %d channels", len(dirs), meta.ChannelCount)}
	}
	return nil
}

// Properties reports the §4.7 property keys this format can supply:
// mpp-x/mpp-y when the OME document carries PhysicalSizeX/Y, and
// quickhash-1 as an md5 digest of the metadata that identifies this
// plane set. bounds-* and objective-power/comment are not knowable from
// the OME-TIFF data this package reads directly (they live in the .vsi
// sidecar's own TIFF tags, outside this package's scope) and are simply
// absent.
func (m *Metadata) Properties() map[string]string {
	props := map[string]string{}
	if m.MPPX > 0 {
		props["mpp-x"] = strconv.FormatFloat(m.MPPX, 'g', -1, 64)
	}
	if m.MPPY > 0 {
		props["mpp-y"] = strconv.FormatFloat(m.MPPY, 'g', -1, 64)
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d:%d:%d:%g:%g", m.SizeX, m.SizeY, m.ChannelCount, m.MPPX, m.MPPY)))
	props["quickhash-1"] = hex.EncodeToString(sum[:])
	return props
}

// Downsample computes the per-level downsample factor from the ratio of
// observed widths rather than assuming a fixed 2x step (§4.5: "downsample
// must be computed from the observed width ratio between level 0 and
// level n, never assumed to be a power of two").
func Downsample(levelZeroWidth, levelNWidth int) float64 {
	if levelNWidth == 0 {
		return 0
	}
	return float64(levelZeroWidth) / float64(levelNWidth)
}
