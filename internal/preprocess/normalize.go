package preprocess

import (
	"fmt"
	"strings"
)

// Normalization maps an 8-bit channel value v to (v*Scale - Mean[c]) / Std[c].
// It has to match whatever the deployed model was trained with; a mismatch
// does not fail, it only makes predictions worse.
type Normalization struct {
	Name  string
	Scale float32
	Mean  [3]float32
	Std   [3]float32
}

var (
	// Unit scales to [0,1].
	Unit = Normalization{Name: "unit", Scale: 1.0 / 255.0, Std: [3]float32{1, 1, 1}}

	// ImageNet scales to [0,1] then standardizes with the ImageNet channel statistics.
	ImageNet = Normalization{
		Name:  "imagenet",
		Scale: 1.0 / 255.0,
		Mean:  [3]float32{0.485, 0.456, 0.406},
		Std:   [3]float32{0.229, 0.224, 0.225},
	}

	// Inception scales to [-1,1] (MobileNet/Inception family).
	Inception = Normalization{
		Name:  "inception",
		Scale: 1.0 / 127.5,
		Mean:  [3]float32{1, 1, 1},
		Std:   [3]float32{1, 1, 1},
	}

	// Raw keeps [0,255] for models that rescale internally.
	Raw = Normalization{Name: "raw", Scale: 1, Std: [3]float32{1, 1, 1}}
)

var presets = map[string]Normalization{
	Unit.Name:      Unit,
	ImageNet.Name:  ImageNet,
	Inception.Name: Inception,
	Raw.Name:       Raw,
}

// NormalizationByName returns a preset by name.
func NormalizationByName(name string) (Normalization, error) {
	n, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Normalization{}, fmt.Errorf("unknown normalization %q", name)
	}
	return n, nil
}

// WithMeanStd overrides the channel statistics. Empty slices keep the
// current values; otherwise exactly three values are required.
func (n Normalization) WithMeanStd(mean, std []float64) (Normalization, error) {
	if len(mean) > 0 {
		if len(mean) != 3 {
			return n, fmt.Errorf("mean needs 3 values, got %d", len(mean))
		}
		for i, v := range mean {
			n.Mean[i] = float32(v)
		}
		n.Name += "+mean"
	}
	if len(std) > 0 {
		if len(std) != 3 {
			return n, fmt.Errorf("std needs 3 values, got %d", len(std))
		}
		for i, v := range std {
			n.Std[i] = float32(v)
		}
		n.Name += "+std"
	}
	return n, n.validate()
}

func (n Normalization) validate() error {
	if n.Scale <= 0 {
		return fmt.Errorf("normalization %q: scale must be positive", n.Name)
	}
	for c, s := range n.Std {
		if s == 0 {
			return fmt.Errorf("normalization %q: std[%d] is zero", n.Name, c)
		}
	}
	return nil
}

// Apply normalizes one channel value.
func (n Normalization) Apply(c int, v uint8) float32 {
	return (float32(v)*n.Scale - n.Mean[c]) / n.Std[c]
}
