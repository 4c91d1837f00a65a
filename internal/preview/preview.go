package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dogsight/alert-server/internal/geometry"
)

var (
	zoneGreen  = color.RGBA{R: 57, G: 255, B: 20, A: 255}
	background = color.RGBA{R: 24, G: 24, B: 24, A: 255}
)

// RenderZone draws the safe zone ring over a blank frame and returns it as
// JPEG. Meant for the settings UI so the user can sanity-check the stored
// polygon without a live camera.
func RenderZone(zone geometry.Polygon, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid preview size %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	if len(zone) >= 3 {
		for i := range zone {
			a := toPixel(zone[i], width, height)
			b := toPixel(zone[(i+1)%len(zone)], width, height)
			drawLine(img, a, b, zoneGreen)
		}
		drawLabel(img, 10, 24, "SAFE ZONE", zoneGreen)
	} else {
		drawLabel(img, 10, 24, "NO ZONE DEFINED (everywhere safe)", zoneGreen)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toPixel(p geometry.Point, width, height int) image.Point {
	return image.Point{
		X: int(p.X * float64(width)),
		Y: int(p.Y * float64(height)),
	}
}

// drawLine rasterizes a segment with integer Bresenham.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy

	x, y := a.X, a.Y
	for {
		setThick(img, x, y, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// setThick paints a 2px dot so the ring stays visible after JPEG compression.
func setThick(img *image.RGBA, x, y int, c color.RGBA) {
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			if image.Pt(x+dx, y+dy).In(img.Bounds()) {
				img.SetRGBA(x+dx, y+dy, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
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
