package config

import (
	"fmt"
	"strings"

	"github.com/smarttrash/classifier/internal/catalog"
	"github.com/smarttrash/classifier/internal/model"
	"github.com/smarttrash/classifier/internal/preprocess"
)

// Catalog builds the label table. Without a labels section the built-in
// catalog is used. Blank fields of a label inherit from its bin.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Labels) == 0 {
		return catalog.Default(), nil
	}

	entries := make([]catalog.Entry, 0, len(c.Labels))
	for i, l := range c.Labels {
		code := strings.ToUpper(strings.TrimSpace(l.Bin))
		bin, ok := binByCode(code)
		if !ok {
			return nil, fmt.Errorf("labels[%d]: unknown bin %q", i, l.Bin)
		}
		entries = append(entries, catalog.Entry{
			RawLabel:    l.Raw,
			Bin:         code,
			DisplayName: orDefault(l.Material, bin.Material),
			Color:       orDefault(l.Color, bin.Color),
			Hint:        orDefault(l.Tip, bin.Tip),
		})
	}
	return catalog.New(entries)
}

// PreprocessOptions resolves the model.* image settings.
func (c *Config) PreprocessOptions() (preprocess.Options, error) {
	norm, err := preprocess.NormalizationByName(c.Model.Normalization)
	if err != nil {
		return preprocess.Options{}, err
	}
	norm, err = norm.WithMeanStd(c.Model.Mean, c.Model.Std)
	if err != nil {
		return preprocess.Options{}, err
	}
	return preprocess.Options{
		Width:         c.Model.Width,
		Height:        c.Model.Height,
		Layout:        preprocess.Layout(c.Model.Layout),
		Normalization: norm,
		Interpolation: c.Model.Interpolation,
		MaxPixels:     c.Model.MaxPixels,
	}, nil
}

// ONNXOptions binds the runtime settings to a concrete input shape and class order.
func (c *Config) ONNXOptions(shape []int64, classes []string) model.ONNXOptions {
	return model.ONNXOptions{
		SharedLibraryPath: c.Model.RuntimeLibrary,
		InputName:         c.Model.InputName,
		OutputName:        c.Model.OutputName,
		InputShape:        shape,
		Classes:           classes,
		MetadataPath:      c.Model.MetadataPath,
		ApplySoftmax:      c.Model.ApplySoftmax,
		Threads:           c.Model.Threads,
	}
}

func binByCode(code string) (catalog.Bin, bool) {
	for _, b := range catalog.Bins {
		if b.Code == code {
			return b, true
		}
	}
	return catalog.Bin{}, false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
