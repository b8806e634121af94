// Package docgen renders receipt documents by overlaying resolved fields onto
// a PDF template.
package docgen

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/go-faster/errors"
	"github.com/signintech/gopdf"
)

// Fields is the fixed set of values stamped onto the template.
type Fields struct {
	Name        string
	Period      int
	AmountCents int64
	Date        time.Time
}

// Layout places each field on the page. Numeric and date fields are anchored
// at their right edge so varying digit counts do not drift visually.
type Layout struct {
	FontSize float64
	NameX    float64
	NameY    float64
	PeriodX  float64
	PeriodY  float64
	AmountX  float64
	AmountY  float64
	DateX    float64
	DateY    float64
}

type Generator struct {
	assets *AssetCache
	layout Layout
}

func NewGenerator(assets *AssetCache, layout Layout) *Generator {
	return &Generator{assets: assets, layout: layout}
}

const fontName = "receipt"

// Generate returns the filled document as bytes. An asset-load failure aborts
// the whole invocation, not just the row: no row can proceed without the
// template.
func (g *Generator) Generate(ctx context.Context, fields Fields) ([]byte, error) {
	template, font, err := g.assets.Load(ctx)
	if err != nil {
		return nil, err
	}

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})

	var source io.ReadSeeker = bytes.NewReader(template)
	tpl := pdf.ImportPageStream(&source, 1, "/MediaBox")
	pdf.AddPage()
	pdf.UseImportedTemplate(tpl, 0, 0, gopdf.PageSizeA4.W, gopdf.PageSizeA4.H)

	if err := pdf.AddTTFFontData(fontName, font); err != nil {
		return nil, errors.Wrap(err, "failed to register font")
	}
	if err := pdf.SetFont(fontName, "", g.layout.FontSize); err != nil {
		return nil, errors.Wrap(err, "failed to set font")
	}

	amount := money.New(fields.AmountCents, money.USD).Display()
	date := fields.Date.Format("2006-01-02")

	if err := g.drawLeft(&pdf, g.layout.NameX, g.layout.NameY, fields.Name); err != nil {
		return nil, err
	}
	if err := g.drawRight(&pdf, g.layout.PeriodX, g.layout.PeriodY, strconv.Itoa(fields.Period)); err != nil {
		return nil, err
	}
	if err := g.drawRight(&pdf, g.layout.AmountX, g.layout.AmountY, amount); err != nil {
		return nil, err
	}
	if err := g.drawRight(&pdf, g.layout.DateX, g.layout.DateY, date); err != nil {
		return nil, err
	}

	return pdf.GetBytesPdf(), nil
}

func (g *Generator) drawLeft(pdf *gopdf.GoPdf, x, y float64, text string) error {
	pdf.SetXY(x, y)
	if err := pdf.Cell(nil, text); err != nil {
		return errors.Wrapf(err, "failed to draw %q", text)
	}
	return nil
}

func (g *Generator) drawRight(pdf *gopdf.GoPdf, rightX, y float64, text string) error {
	width, err := pdf.MeasureTextWidth(text)
	if err != nil {
		return errors.Wrapf(err, "failed to measure %q", text)
	}
	pdf.SetXY(rightX-width, y)
	if err := pdf.Cell(nil, text); err != nil {
		return errors.Wrapf(err, "failed to draw %q", text)
	}
	return nil
}
