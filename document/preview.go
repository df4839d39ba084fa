package document

import (
	"image"
	"image/draw"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	a4WidthInches  = 8.27
	a4HeightInches = 11.69
	linesPerPage   = 60
	wrapColumn     = 96
)

// renderText rasterizes one page of text onto an A4 sized white canvas.
func renderText(text string, dpi float64) *image.RGBA {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	width := int(a4WidthInches * dpi)
	height := int(a4HeightInches * dpi)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 2
	margin := int(dpi / 2)

	drawer := &font.Drawer{Dst: img, Src: image.Black, Face: face}
	y := margin + lineHeight
	for _, line := range strings.Split(text, "\n") {
		if y > height-margin {
			break
		}
		drawer.Dot = fixed.P(margin, y)
		drawer.DrawString(line)
		y += lineHeight
	}
	return img
}

// paginate wraps text at wrapColumn and splits it into pages of linesPerPage.
// Form feeds force a page break. An empty text still yields one page.
func paginate(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var pages []string
	for _, chunk := range strings.Split(text, "\f") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			lines = append(lines, wrap(line, wrapColumn)...)
		}
		for len(lines) > 0 {
			n := linesPerPage
			if n > len(lines) {
				n = len(lines)
			}
			pages = append(pages, strings.Join(lines[:n], "\n"))
			lines = lines[n:]
		}
	}
	if len(pages) == 0 {
		pages = []string{""}
	}
	return pages
}

func wrap(line string, width int) []string {
	line = strings.ReplaceAll(line, "\t", "    ")
	if utf8.RuneCountInString(line) <= width {
		return []string{line}
	}
	var out []string
	runes := []rune(line)
	for len(runes) > width {
		cut := width
		for i := width; i > width/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " "))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	return append(out, string(runes))
}
