package ometiff

import "testing"

const sampleOME = `<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
  <Experimenter ID="Experimenter:0" UserName="olympus"/>
  <Image ID="Image:0">
    <Pixels ID="Pixels:0" SizeX="1024" SizeY="768" SizeC="2" SizeZ="1" SizeT="1">
      <Plane TheC="0" TheZ="0" TheT="0" IFD="0"/>
      <Plane TheC="1" TheZ="0" TheT="0" IFD="1"/>
    </Pixels>
  </Image>
</OME>`

func TestParseMetadata(t *testing.T) {
	meta, err := ParseMetadata(sampleOME)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if meta.SizeX != 1024 || meta.SizeY != 768 || meta.ChannelCount != 2 {
		t.Errorf("got %+v", meta)
	}
}

func TestParseMetadataFailsClosedOnMissingSize(t *testing.T) {
	const noSize = `<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
  <Image ID="Image:0">
    <Pixels ID="Pixels:0" SizeC="1"/>
  </Image>
</OME>`
	_, err := ParseMetadata(noSize)
	if err == nil {
		t.Fatal("expected MissingMetadataError for absent SizeX/SizeY")
	}
	missing, ok := err.(*MissingMetadataError)
	if !ok {
		t.Fatalf("got %v (%T), want *MissingMetadataError", err, err)
	}
	if missing.Attr != "SizeX" {
		t.Errorf("Attr = %q, want SizeX", missing.Attr)
	}
}

func TestMetadataProperties(t *testing.T) {
	meta, err := ParseMetadata(sampleOME)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	props := meta.Properties()
	if _, ok := props["quickhash-1"]; !ok {
		t.Error("expected quickhash-1 to be present")
	}
	if _, ok := props["mpp-x"]; ok {
		t.Error("mpp-x should be absent when PhysicalSizeX is not declared")
	}
}

func TestValidateAgreementDetectsWidthMismatch(t *testing.T) {
	dirs := []Directory{
		{Width: 999, Height: 768},
		{Width: 999, Height: 768},
	}
	meta := &Metadata{SizeX: 1024, SizeY: 768, ChannelCount: 2}
	if err := ValidateAgreement(dirs, meta); err == nil {
		t.Fatal("expected agreement error for width mismatch")
	}
}

func TestValidateAgreementDetectsChannelCountMismatch(t *testing.T) {
	dirs := []Directory{
		{Width: 1024, Height: 768},
		{Width: 1024, Height: 768},
		{Width: 512, Height: 384},
	}
	meta := &Metadata{SizeX: 1024, SizeY: 768, ChannelCount: 2}
	if err := ValidateAgreement(dirs, meta); err == nil {
		t.Fatal("expected agreement error: 3 directories is not a multiple of 2 channels")
	}
}

func TestValidateAgreementAccepts(t *testing.T) {
	dirs := []Directory{
		{Width: 1024, Height: 768},
		{Width: 1024, Height: 768},
	}
	meta := &Metadata{SizeX: 1024, SizeY: 768, ChannelCount: 2}
	if err := ValidateAgreement(dirs, meta); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDownsampleFromObservedWidths(t *testing.T) {
	if d := Downsample(1024, 256); d != 4.0 {
		t.Errorf("Downsample = %v, want 4.0", d)
	}
	// Non-power-of-two ratios must pass through unchanged (§4.5): this
	// reader never assumes a fixed step.
	if d := Downsample(1000, 300); d < 3.3332 || d > 3.3334 {
		t.Errorf("Downsample = %v, want ~3.3333", d)
	}
}
