package export

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"strconv"

	"trialsim/domain/trial"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	chartWidth  = 640
	chartHeight = 400
	marginLeft  = 56
	marginRight = 20
	marginTop   = 30
	marginBot   = 44
)

var (
	colorBackground = color.RGBA{255, 255, 255, 255}
	colorAxis       = color.RGBA{60, 60, 60, 255}
	colorGrid       = color.RGBA{225, 225, 225, 255}
	colorTreatment1 = color.RGBA{31, 119, 180, 255}
	colorTreatment2 = color.RGBA{255, 127, 14, 255}
)

// WritePowerCurvePNG draws the power curve of both treatments as a PNG line chart
func WritePowerCurvePNG(w io.Writer, curve []trial.PowerPoint) error {
	return png.Encode(w, RenderPowerCurve(curve))
}

// RenderPowerCurve draws power (0-100%) against sample size per arm
func RenderPowerCurve(curve []trial.PowerPoint) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: colorBackground}, image.Point{}, draw.Src)

	plot := image.Rect(marginLeft, marginTop, chartWidth-marginRight, chartHeight-marginBot)

	for pct := 0; pct <= 100; pct += 25 {
		y := yFor(plot, float64(pct))
		line(img, plot.Min.X, y, plot.Max.X, y, colorGrid)
		label(img, 8, y+4, strconv.Itoa(pct)+"%", colorAxis)
	}
	line(img, plot.Min.X, plot.Min.Y, plot.Min.X, plot.Max.Y, colorAxis)
	line(img, plot.Min.X, plot.Max.Y, plot.Max.X, plot.Max.Y, colorAxis)
	label(img, marginLeft, 18, "Power vs sample size per arm", colorAxis)

	if len(curve) == 0 {
		return img
	}

	minN, maxN := curve[0].SampleSize, curve[0].SampleSize
	for _, p := range curve {
		minN = min(minN, p.SampleSize)
		maxN = max(maxN, p.SampleSize)
	}
	xFor := func(n int) int {
		if maxN == minN {
			return plot.Min.X + plot.Dx()/2
		}
		return plot.Min.X + (n-minN)*plot.Dx()/(maxN-minN)
	}

	for _, p := range curve {
		x := xFor(p.SampleSize)
		line(img, x, plot.Max.Y, x, plot.Max.Y+4, colorAxis)
		text := strconv.Itoa(p.SampleSize)
		label(img, x-len(text)*7/2, plot.Max.Y+18, text, colorAxis)
	}

	series := []struct {
		value func(trial.PowerPoint) float64
		color color.RGBA
		name  string
	}{
		{func(p trial.PowerPoint) float64 { return p.PowerTreatment1 }, colorTreatment1, "treatment 1"},
		{func(p trial.PowerPoint) float64 { return p.PowerTreatment2 }, colorTreatment2, "treatment 2"},
	}
	for i, s := range series {
		for j := range curve {
			x, y := xFor(curve[j].SampleSize), yFor(plot, s.value(curve[j]))
			marker(img, x, y, s.color)
			if j > 0 {
				line(img, xFor(curve[j-1].SampleSize), yFor(plot, s.value(curve[j-1])), x, y, s.color)
			}
		}
		legendX := plot.Min.X + 10 + i*130
		line(img, legendX, chartHeight-10, legendX+20, chartHeight-10, s.color)
		label(img, legendX+26, chartHeight-6, s.name, colorAxis)
	}
	return img
}

func yFor(plot image.Rectangle, pct float64) int {
	pct = max(0, min(100, pct))
	return plot.Max.Y - int(pct*float64(plot.Dy())/100)
}

// line draws with Bresenham's algorithm
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func marker(img *image.RGBA, x, y int, c color.Color) {
	draw.Draw(img, image.Rect(x-2, y-2, x+3, y+3), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func label(img *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
