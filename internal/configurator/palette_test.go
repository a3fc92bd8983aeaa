package configurator

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/runferry/portal/model"
)

func TestCatalogue(t *testing.T) {
	p := Catalogue()
	if len(p.Hull) != 10 {
		t.Errorf("hull palette = %d entries, want 10", len(p.Hull))
	}
	if len(p.Stickers) != 11 {
		t.Errorf("sticker palette = %d entries, want 11", len(p.Stickers))
	}
	if p.Stickers[0].Key != "original" {
		t.Errorf("sticker color 0 = %q, want original", p.Stickers[0].Key)
	}
	if p.Hull[9].Key != "graphite" {
		t.Errorf("hull color 9 = %q, want graphite", p.Hull[9].Key)
	}
	if got := len(p.Sets["top"]); got != 15 {
		t.Errorf("top sticker set = %d entries, want 15", got)
	}
}

func TestValidate(t *testing.T) {
	valid := Configuration{
		HullColorIndex: 9,
		LeftGroup1:     StickerSelection{StickerNumber: 11, ColorIndex: 10},
		LeftGroup2:     StickerSelection{StickerNumber: 8},
		BackSticker:    StickerSelection{StickerNumber: 6, ColorIndex: 1},
	}
	if err := Validate(valid); err != nil {
		t.Errorf("Validate(valid) error = %v", err)
	}

	invalid := Configuration{
		HullColorIndex: 10,
		LeftGroup1:     StickerSelection{StickerNumber: 8},
		TopSticker:     StickerSelection{StickerNumber: 1, ColorIndex: 11},
	}
	err := Validate(invalid)
	ee, ok := model.AsEnvelope(err)
	if !ok || ee.Code != model.ErrInvalidConfiguration {
		t.Fatalf("Validate(invalid) error = %v, want INVALID_CONFIGURATION", err)
	}
	fields := map[string]bool{}
	for _, d := range ee.Details {
		fields[d.Field] = true
	}
	for _, f := range []string{"hullColorIndex", "leftGroup1.stickerNumber", "topSticker.colorIndex"} {
		if !fields[f] {
			t.Errorf("missing detail for %s in %+v", f, ee.Details)
		}
	}
}

func TestResolve_clampsOutOfRange(t *testing.T) {
	r := Resolve(Configuration{
		HullColorIndex: 30,
		TopSticker:     StickerSelection{StickerNumber: 4, ColorIndex: 20},
		BackSticker:    StickerSelection{StickerNumber: 2, ColorIndex: 9},
	})
	if r.Hull.Key != "orange" {
		t.Errorf("Hull = %q, want orange (index 0)", r.Hull.Key)
	}
	if r.TopSticker.Color.Key != "original" {
		t.Errorf("TopSticker.Color = %q, want original", r.TopSticker.Color.Key)
	}
	if r.BackSticker.Color.Key != "white" {
		t.Errorf("BackSticker.Color = %q, want white", r.BackSticker.Color.Key)
	}
	if r.TopSticker.StickerNumber != 4 {
		t.Errorf("TopSticker.StickerNumber = %d, want 4", r.TopSticker.StickerNumber)
	}
}

func TestShareURL(t *testing.T) {
	got := ShareURL("https://portal.runferry.com/", "352-000-000")
	if got != "https://portal.runferry.com/configurator/result/352000000" {
		t.Errorf("ShareURL() = %q", got)
	}
}

func TestQRPNG(t *testing.T) {
	b, err := QRPNG("https://portal.runferry.com", "352000000", 0)
	if err != nil {
		t.Fatalf("QRPNG() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if w := img.Bounds().Dx(); w != DefaultQRSize {
		t.Errorf("width = %d, want %d", w, DefaultQRSize)
	}
}
