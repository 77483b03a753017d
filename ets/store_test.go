package ets

import "testing"

func TestStorePropertiesReportsBackgroundColorAndQuickhash(t *testing.T) {
	s := &Store{
		sis: &SISHeader{Version: 2, TileCount: 4},
		ets: &ETSHeader{
			PixelType:       PixelUInt8,
			ChannelKind:     ChannelRGB,
			Colorspace:      ColorspaceBrightfield,
			Compression:     CompressionJPEG,
			BackgroundColor: []uint8{0xff, 0x00, 0x80},
		},
	}
	props := s.Properties()
	if props["background-color"] != "ff0080" {
		t.Errorf("background-color = %q, want ff0080", props["background-color"])
	}
	if len(props["quickhash-1"]) != 32 {
		t.Errorf("quickhash-1 = %q, want 32 hex chars", props["quickhash-1"])
	}
}
