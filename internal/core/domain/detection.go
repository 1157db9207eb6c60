package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type WasteClass string

const (
	ClassGlassBottle   WasteClass = "botol_kaca"
	ClassCanBottle     WasteClass = "botol_kaleng"
	ClassPlasticBottle WasteClass = "botol_plastik"
)

// KnownClasses lists every class the detection backend is trained on.
var KnownClasses = []WasteClass{ClassGlassBottle, ClassCanBottle, ClassPlasticBottle}

func (c WasteClass) Known() bool {
	for _, k := range KnownClasses {
		if c == k {
			return true
		}
	}
	return false
}

// BoundingBox is stored as origin plus size.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UnmarshalJSON accepts either {x,y,width,height} or a [x1,y1,x2,y2] corner array.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var corners []float64
	if err := json.Unmarshal(data, &corners); err == nil {
		if len(corners) != 4 {
			return fmt.Errorf("bbox array must have 4 values, got %d", len(corners))
		}
		*b = BoundingBox{
			X:      corners[0],
			Y:      corners[1],
			Width:  corners[2] - corners[0],
			Height: corners[3] - corners[1],
		}
		return nil
	}

	type plain BoundingBox
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	*b = BoundingBox(p)
	return nil
}

// Detection is immutable once decoded.
type Detection struct {
	Label      WasteClass  `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
	Timestamp  time.Time   `json:"timestamp"`
}
