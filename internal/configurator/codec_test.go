package configurator

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/runferry/portal/model"
)

func TestEncode_example(t *testing.T) {
	c := Configuration{
		HullColorIndex: 3,
		LeftGroup1:     StickerSelection{StickerNumber: 5, ColorIndex: 2},
	}
	code, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if code != "352000000" {
		t.Errorf("Encode() = %q, want 352000000", code)
	}
}

func TestEncode_usesUppercaseDigits(t *testing.T) {
	c := Configuration{
		HullColorIndex: 9,
		TopSticker:     StickerSelection{StickerNumber: 16, ColorIndex: 10},
		BackSticker:    StickerSelection{StickerNumber: 35, ColorIndex: 35},
	}
	code, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if code != "90000GAZZ" {
		t.Errorf("Encode() = %q, want 90000GAZZ", code)
	}
}

func TestEncode_rejectsUnrepresentableFields(t *testing.T) {
	tests := []struct {
		name  string
		c     Configuration
		field string
	}{
		{"hull 36", Configuration{HullColorIndex: 36}, "hullColorIndex"},
		{"negative color", Configuration{LeftGroup2: StickerSelection{ColorIndex: -1}}, "leftGroup2.colorIndex"},
		{"sticker 40", Configuration{TopSticker: StickerSelection{StickerNumber: 40}}, "topSticker.stickerNumber"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.c)
			ee, ok := model.AsEnvelope(err)
			if !ok || ee.Code != model.ErrInvalidConfiguration {
				t.Fatalf("Encode() error = %v, want INVALID_CONFIGURATION", err)
			}
			if len(ee.Details) != 1 || ee.Details[0].Field != tt.field {
				t.Errorf("Details = %+v, want one entry for %s", ee.Details, tt.field)
			}
		})
	}
}

func TestDecode_roundTrip(t *testing.T) {
	configs := []Configuration{
		{},
		{HullColorIndex: 3, LeftGroup1: StickerSelection{StickerNumber: 5, ColorIndex: 2}},
		{
			HullColorIndex: 9,
			LeftGroup1:     StickerSelection{StickerNumber: 11, ColorIndex: 10},
			LeftGroup2:     StickerSelection{StickerNumber: 9, ColorIndex: 1},
			TopSticker:     StickerSelection{StickerNumber: 16, ColorIndex: 0},
			BackSticker:    StickerSelection{StickerNumber: 6, ColorIndex: 4},
		},
	}
	for _, c := range configs {
		code, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode(%+v) error = %v", c, err)
		}
		got, err := Decode(code)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", code, err)
		}
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecode_roundTripEveryValidSlotValue(t *testing.T) {
	slots := []struct {
		name string
		set  []int
		sel  func(*Configuration) *StickerSelection
	}{
		{"leftGroup1", LeftGroup1Stickers, func(c *Configuration) *StickerSelection { return &c.LeftGroup1 }},
		{"leftGroup2", LeftGroup2Stickers, func(c *Configuration) *StickerSelection { return &c.LeftGroup2 }},
		{"topSticker", TopStickers, func(c *Configuration) *StickerSelection { return &c.TopSticker }},
		{"backSticker", BackStickers, func(c *Configuration) *StickerSelection { return &c.BackSticker }},
	}

	checked := 0
	for hull := range HullColors {
		for _, slot := range slots {
			stickers := append([]int{int(NoSticker)}, slot.set...)
			for _, n := range stickers {
				for color := range StickerColors {
					c := Configuration{HullColorIndex: hull}
					*slot.sel(&c) = StickerSelection{StickerNumber: StickerNumber(n), ColorIndex: color}
					if err := Validate(c); err != nil {
						t.Fatalf("Validate(%+v) error = %v", c, err)
					}
					code, err := Encode(c)
					if err != nil {
						t.Fatalf("Encode(%+v) error = %v", c, err)
					}
					got, err := Decode(code)
					if err != nil {
						t.Fatalf("Decode(%q) error = %v", code, err)
					}
					if got != c {
						t.Fatalf("%s: Decode(Encode(%+v)) = %+v", slot.name, c, got)
					}
					checked++
				}
			}
		}
	}
	if checked == 0 {
		t.Fatal("no configurations checked")
	}
}

func TestDecode_caseInsensitiveAndSeparators(t *testing.T) {
	want, err := Decode("90000GAZZ")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for _, in := range []string{"90000gazz", "900-00G-AZZ", " 900 00g azz ", "900\t00GAzz"} {
		got, err := Decode(in)
		if err != nil {
			t.Errorf("Decode(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Decode(%q) = %+v, want %+v", in, got, want)
		}
	}
}

func TestDecode_invalid(t *testing.T) {
	for _, in := range []string{"", "12345678", "1234567890", "35200000!", "ЖЖЖЖЖЖЖЖЖ", "3520000ё"} {
		_, err := Decode(in)
		ee, ok := model.AsEnvelope(err)
		if !ok || ee.Code != model.ErrInvalidCode {
			t.Errorf("Decode(%q) error = %v, want INVALID_CODE", in, err)
			continue
		}
		if ee.Meta["returnTo"] != "/configurator" {
			t.Errorf("Decode(%q) meta = %v, want returnTo", in, ee.Meta)
		}
	}
}

func TestDecode_skipsPaletteChecks(t *testing.T) {
	c, err := Decode("Z00000000")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if c.HullColorIndex != 35 {
		t.Errorf("HullColorIndex = %d, want 35", c.HullColorIndex)
	}
	if Validate(c) == nil {
		t.Error("Validate() should reject hull 35")
	}
}

func TestStickerNumber_JSON(t *testing.T) {
	b, err := json.Marshal(StickerSelection{StickerNumber: NoSticker, ColorIndex: 0})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(b, []byte(`{"stickerNumber":null,"colorIndex":0}`)) {
		t.Errorf("Marshal() = %s", b)
	}

	var s StickerSelection
	if err := json.Unmarshal([]byte(`{"stickerNumber":7,"colorIndex":3}`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.StickerNumber != 7 || s.ColorIndex != 3 {
		t.Errorf("Unmarshal() = %+v", s)
	}
	if err := json.Unmarshal([]byte(`{"stickerNumber":null}`), &s); err != nil {
		t.Fatalf("Unmarshal(null) error = %v", err)
	}
	if s.HasSticker() {
		t.Error("null sticker should decode to NoSticker")
	}
}
