package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/geoingestflow/internal/formats"
)

// inspect reads descriptive details of a passthrough file for the manifest.
// It never fails the file; problems come back as a warning.
func inspect(f formats.Format, data []byte) (details map[string]int, warning string) {
	defer func() {
		if r := recover(); r != nil {
			details, warning = nil, fmt.Sprintf("could not inspect %s: %v", f, r)
		}
	}()
	switch f {
	case formats.PNG:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Sprintf("could not read image header: %v", err)
		}
		return map[string]int{"width": cfg.Width, "height": cfg.Height}, ""
	case formats.PDF:
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
		if err != nil {
			return nil, fmt.Sprintf("could not read page count: %v", err)
		}
		return map[string]int{"pages": ctx.PageCount}, ""
	}
	return nil, ""
}
