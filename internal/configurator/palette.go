package configurator

import (
	"fmt"
	"slices"

	"github.com/runferry/portal/model"
)

// Color is a palette entry.
type Color struct {
	Key string `json:"key"`
	Hex string `json:"hex"`
}

// HullColors is the hull palette, indexed by Configuration.HullColorIndex.
var HullColors = []Color{
	{Key: "orange", Hex: "#FF6B00"},
	{Key: "red", Hex: "#FF0000"},
	{Key: "yellow", Hex: "#FFD700"},
	{Key: "green", Hex: "#00CC00"},
	{Key: "cyan", Hex: "#00CCCC"},
	{Key: "blue", Hex: "#0066FF"},
	{Key: "purple", Hex: "#9900FF"},
	{Key: "pink", Hex: "#FF00CC"},
	{Key: "lightGray", Hex: "#C0C0C0"},
	{Key: "graphite", Hex: "#4A4A4A"},
}

// StickerColors is the sticker palette. Index 0 keeps the printed colors.
var StickerColors = []Color{
	{Key: "original", Hex: "#888888"},
	{Key: "red", Hex: "#FF0000"},
	{Key: "orange", Hex: "#FF6B00"},
	{Key: "yellow", Hex: "#FFD700"},
	{Key: "green", Hex: "#00CC00"},
	{Key: "cyan", Hex: "#00CCCC"},
	{Key: "blue", Hex: "#0066FF"},
	{Key: "purple", Hex: "#9900FF"},
	{Key: "pink", Hex: "#FF00CC"},
	{Key: "white", Hex: "#FFFFFF"},
	{Key: "black", Hex: "#333333"},
}

// Sticker sets available per slot.
var (
	LeftGroup1Stickers = []int{1, 2, 3, 4, 5, 6, 7, 9, 10, 11}
	LeftGroup2Stickers = []int{1, 2, 3, 4, 5, 6, 7, 8, 9}
	TopStickers        = []int{1, 2, 3, 4, 5, 6, 7, 9, 10, 11, 12, 13, 14, 15, 16}
	BackStickers       = []int{1, 2, 3, 4, 5, 6}
)

// Palettes is the catalogue served to clients.
type Palettes struct {
	Hull     []Color          `json:"hull"`
	Stickers []Color          `json:"stickers"`
	Sets     map[string][]int `json:"stickerSets"`
}

// Catalogue returns every palette and sticker set.
func Catalogue() Palettes {
	return Palettes{
		Hull:     HullColors,
		Stickers: StickerColors,
		Sets: map[string][]int{
			"left.group1": LeftGroup1Stickers,
			"left.group2": LeftGroup2Stickers,
			"top":         TopStickers,
			"back":        BackStickers,
		},
	}
}

// Validate checks c against the palettes and sticker sets. It is stricter
// than Encode, which only needs every field to fit a base-36 digit.
func Validate(c Configuration) error {
	var details []model.FieldError

	if c.HullColorIndex < 0 || c.HullColorIndex >= len(HullColors) {
		details = append(details, model.FieldError{
			Field:   "hullColorIndex",
			Code:    "OUT_OF_RANGE",
			Message: fmt.Sprintf("must be 0..%d", len(HullColors)-1),
		})
	}

	slots := []struct {
		name string
		sel  StickerSelection
		set  []int
	}{
		{"leftGroup1", c.LeftGroup1, LeftGroup1Stickers},
		{"leftGroup2", c.LeftGroup2, LeftGroup2Stickers},
		{"topSticker", c.TopSticker, TopStickers},
		{"backSticker", c.BackSticker, BackStickers},
	}
	for _, s := range slots {
		if s.sel.HasSticker() && !slices.Contains(s.set, int(s.sel.StickerNumber)) {
			details = append(details, model.FieldError{
				Field:   s.name + ".stickerNumber",
				Code:    "UNKNOWN_STICKER",
				Message: fmt.Sprintf("sticker %d is not available in this slot", s.sel.StickerNumber),
			})
		}
		if s.sel.ColorIndex < 0 || s.sel.ColorIndex >= len(StickerColors) {
			details = append(details, model.FieldError{
				Field:   s.name + ".colorIndex",
				Code:    "OUT_OF_RANGE",
				Message: fmt.Sprintf("must be 0..%d", len(StickerColors)-1),
			})
		}
	}

	if len(details) > 0 {
		err := model.NewError(model.ErrInvalidConfiguration, "Configuration is not valid")
		err.Details = details
		return err
	}
	return nil
}

// ResolvedSticker is a sticker slot with its color resolved.
type ResolvedSticker struct {
	StickerNumber StickerNumber `json:"stickerNumber"`
	Color         Color         `json:"color"`
}

// Resolved is a display view of a configuration.
type Resolved struct {
	Hull        Color           `json:"hull"`
	LeftGroup1  ResolvedSticker `json:"leftGroup1"`
	LeftGroup2  ResolvedSticker `json:"leftGroup2"`
	TopSticker  ResolvedSticker `json:"topSticker"`
	BackSticker ResolvedSticker `json:"backSticker"`
}

// Resolve maps indices to palette entries. Out-of-range indices resolve to
// entry 0, so a decoded but semantically invalid code still renders.
func Resolve(c Configuration) Resolved {
	sticker := func(s StickerSelection) ResolvedSticker {
		return ResolvedSticker{StickerNumber: s.StickerNumber, Color: pick(StickerColors, s.ColorIndex)}
	}
	return Resolved{
		Hull:        pick(HullColors, c.HullColorIndex),
		LeftGroup1:  sticker(c.LeftGroup1),
		LeftGroup2:  sticker(c.LeftGroup2),
		TopSticker:  sticker(c.TopSticker),
		BackSticker: sticker(c.BackSticker),
	}
}

func pick(palette []Color, i int) Color {
	if i < 0 || i >= len(palette) {
		return palette[0]
	}
	return palette[i]
}
