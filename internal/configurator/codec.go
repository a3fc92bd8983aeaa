// Package configurator encodes a boat's cosmetic configuration (hull color
// plus four sticker slots) into a compact 9-character base-36 code and back.
package configurator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/runferry/portal/model"
)

// CodeLength is the number of base-36 digits in a configuration code.
const CodeLength = 9

// NoSticker marks an empty sticker slot. It encodes as digit 0 and renders
// as JSON null.
const NoSticker = 0

// maxDigit is the largest value a single base-36 digit can carry.
const maxDigit = 35

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// StickerNumber is a sticker identifier within its slot's sticker set.
type StickerNumber int

// MarshalJSON renders NoSticker as null.
func (n StickerNumber) MarshalJSON() ([]byte, error) {
	if n == NoSticker {
		return []byte("null"), nil
	}
	return json.Marshal(int(n))
}

// UnmarshalJSON accepts null as NoSticker.
func (n *StickerNumber) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*n = NoSticker
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = StickerNumber(v)
	return nil
}

// StickerSelection is one sticker slot: which sticker and in which color.
type StickerSelection struct {
	StickerNumber StickerNumber `json:"stickerNumber"`
	ColorIndex    int           `json:"colorIndex"`
}

// HasSticker reports whether a sticker is placed in the slot.
func (s StickerSelection) HasSticker() bool { return s.StickerNumber != NoSticker }

// Configuration is a complete boat appearance.
type Configuration struct {
	HullColorIndex int              `json:"hullColorIndex"`
	LeftGroup1     StickerSelection `json:"leftGroup1"`
	LeftGroup2     StickerSelection `json:"leftGroup2"`
	TopSticker     StickerSelection `json:"topSticker"`
	BackSticker    StickerSelection `json:"backSticker"`
}

// fields returns the nine encoded values in code order.
func (c Configuration) fields() [CodeLength]int {
	return [CodeLength]int{
		c.HullColorIndex,
		int(c.LeftGroup1.StickerNumber), c.LeftGroup1.ColorIndex,
		int(c.LeftGroup2.StickerNumber), c.LeftGroup2.ColorIndex,
		int(c.TopSticker.StickerNumber), c.TopSticker.ColorIndex,
		int(c.BackSticker.StickerNumber), c.BackSticker.ColorIndex,
	}
}

var fieldNames = [CodeLength]string{
	"hullColorIndex",
	"leftGroup1.stickerNumber", "leftGroup1.colorIndex",
	"leftGroup2.stickerNumber", "leftGroup2.colorIndex",
	"topSticker.stickerNumber", "topSticker.colorIndex",
	"backSticker.stickerNumber", "backSticker.colorIndex",
}

// Encode returns the 9-character uppercase code for c. Fields outside 0..35
// cannot be represented and yield INVALID_CONFIGURATION.
func Encode(c Configuration) (string, error) {
	var details []model.FieldError
	var sb strings.Builder
	sb.Grow(CodeLength)

	for i, v := range c.fields() {
		if v < 0 || v > maxDigit {
			details = append(details, model.FieldError{
				Field:   fieldNames[i],
				Code:    "OUT_OF_RANGE",
				Message: fmt.Sprintf("%d is outside 0..%d", v, maxDigit),
			})
			continue
		}
		sb.WriteByte(digits[v])
	}

	if len(details) > 0 {
		err := model.NewError(model.ErrInvalidConfiguration, "Configuration cannot be encoded")
		err.Details = details
		return "", err
	}
	return sb.String(), nil
}

// Normalize strips whitespace and dashes and upper-cases the result.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// Decode parses a configuration code. Whitespace and dashes are ignored and
// digits are case-insensitive. Any malformed input yields INVALID_CODE.
// Decode performs no palette or sticker-set checks.
func Decode(code string) (Configuration, error) {
	clean := Normalize(code)
	if len(clean) != CodeLength {
		return Configuration{}, invalidCode(fmt.Sprintf("code must have %d characters", CodeLength))
	}

	var v [CodeLength]int
	for i := 0; i < CodeLength; i++ {
		d := strings.IndexByte(digits, clean[i])
		if d < 0 {
			return Configuration{}, invalidCode(fmt.Sprintf("character %q is not a base-36 digit", clean[i]))
		}
		v[i] = d
	}

	return Configuration{
		HullColorIndex: v[0],
		LeftGroup1:     StickerSelection{StickerNumber: StickerNumber(v[1]), ColorIndex: v[2]},
		LeftGroup2:     StickerSelection{StickerNumber: StickerNumber(v[3]), ColorIndex: v[4]},
		TopSticker:     StickerSelection{StickerNumber: StickerNumber(v[5]), ColorIndex: v[6]},
		BackSticker:    StickerSelection{StickerNumber: StickerNumber(v[7]), ColorIndex: v[8]},
	}, nil
}

func invalidCode(msg string) *model.ErrorEnvelope {
	return model.NewError(model.ErrInvalidCode, msg).
		WithMeta("returnTo", "/configurator")
}
