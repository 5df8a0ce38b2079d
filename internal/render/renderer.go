// Package render рисует PNG с подсвеченным кодом для публикации задач.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"codequiz/internal/model"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

// Геометрия картинки
const (
	Width          = 1600
	padding        = 60
	headerHeight   = 64
	captionHeight  = 120
	gutterGap      = 28
	maxFontSize    = 34.0
	minFontSize    = 16.0
	fontStep       = 2.0
	lineSpacing    = 1.5
	logoHeight     = 44
	captionSize    = 40.0
	windowRadius   = 18.0
	dotRadius      = 9.0
	maxCodeHeight  = 1800
	tabReplacement = "    "
)

var (
	backgroundColor = color.NRGBA{R: 0x1e, G: 0x1f, B: 0x29, A: 0xff}
	captionColor    = color.NRGBA{R: 0xf8, G: 0xf8, B: 0xf2, A: 0xff}
	lineNumberColor = color.NRGBA{R: 0x6c, G: 0x70, B: 0x86, A: 0xff}
	dotColors       = []color.NRGBA{
		{R: 0xff, G: 0x5f, B: 0x56, A: 0xff},
		{R: 0xff, G: 0xbd, B: 0x2e, A: 0xff},
		{R: 0x27, G: 0xc9, B: 0x3f, A: 0xff},
	}
)

// Options настройки рендера
type Options struct {
	// Style имя цветовой схемы chroma
	Style string
	// LogoPath путь к PNG/JPEG логотипу; пустой отключает логотип
	LogoPath string
}

// Renderer рисует картинки кода. Безопасен для конкурентного использования.
type Renderer struct {
	style   *chroma.Style
	mono    *truetype.Font
	regular *truetype.Font
	logo    image.Image
	logger  *zap.Logger
}

// New создает рендер, загружая шрифты и логотип
func New(opts Options, logger *zap.Logger) (*Renderer, error) {
	mono, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mono font: %w", err)
	}
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse caption font: %w", err)
	}

	styleName := opts.Style
	if styleName == "" {
		styleName = "monokai"
	}
	style := styles.Get(styleName)
	if style.Name != styleName {
		logger.Warn("Unknown render style, using fallback",
			zap.String("style", styleName),
			zap.String("fallback", style.Name))
	}

	r := &Renderer{
		style:   style,
		mono:    mono,
		regular: regular,
		logger:  logger,
	}

	if opts.LogoPath != "" {
		logo, err := loadLogo(opts.LogoPath)
		if err != nil {
			return nil, err
		}
		r.logo = logo
	}

	return r, nil
}

func loadLogo(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logo: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode logo: %w", err)
	}

	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * logoHeight / float64(b.Dy())))
	dst := image.NewRGBA(image.Rect(0, 0, w, logoHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, nil
}

// Render рисует PNG для текста задачи. captionLanguage выбирает язык подписи.
func (r *Renderer) Render(source, languageHint, captionLanguage string) ([]byte, error) {
	code, lang := ExtractCode(source, languageHint)
	if strings.TrimSpace(code) == "" {
		return nil, model.Errorf(model.KindValidationFailed, "render", "no code to render")
	}

	lines, err := r.tokenize(code, lang)
	if err != nil {
		return nil, err
	}

	codeImg := r.drawCode(lines)
	available := Width - 2*padding - 2*padding
	if codeImg.Bounds().Dx() > available {
		// даже минимальный кегль не помещается: масштабируем по ширине
		h := int(math.Round(float64(codeImg.Bounds().Dy()) * float64(available) / float64(codeImg.Bounds().Dx())))
		scaled := image.NewRGBA(image.Rect(0, 0, available, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), codeImg, codeImg.Bounds(), draw.Over, nil)
		r.logger.Debug("Code scaled to fit",
			zap.Int("from_width", codeImg.Bounds().Dx()),
			zap.Int("to_width", available))
		codeImg = scaled
	}

	windowH := headerHeight + padding + codeImg.Bounds().Dy()
	height := padding + windowH + captionHeight

	dc := gg.NewContext(Width, height)
	dc.SetColor(backgroundColor)
	dc.Clear()

	r.drawWindow(dc, float64(windowH))
	dc.DrawImage(codeImg, 2*padding, padding+headerHeight+padding/2)
	r.drawCaption(dc, model.ImageCaption(captionLanguage), float64(height))

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) tokenize(code, lang string) ([][]chroma.Token, error) {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, strings.ReplaceAll(code, "\t", tabReplacement))
	if err != nil {
		return nil, fmt.Errorf("failed to tokenise code: %w", err)
	}
	return chroma.SplitTokensIntoLines(iterator.Tokens()), nil
}

func (r *Renderer) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// fitFontSize подбирает наибольший кегль, при котором код помещается
func (r *Renderer) fitFontSize(lines [][]chroma.Token) float64 {
	available := float64(Width - 4*padding)
	longest := longestLine(lines)
	gutter := len(strconv.Itoa(len(lines)))

	dc := gg.NewContext(1, 1)
	for size := maxFontSize; size >= minFontSize; size -= fontStep {
		dc.SetFontFace(r.face(r.mono, size))
		charW, _ := dc.MeasureString("M")
		width := charW*float64(longest+gutter) + gutterGap
		height := float64(len(lines)) * size * lineSpacing
		if width <= available && height <= maxCodeHeight {
			return size
		}
	}
	return minFontSize
}

func (r *Renderer) drawCode(lines [][]chroma.Token) image.Image {
	size := r.fitFontSize(lines)
	face := r.face(r.mono, size)

	measure := gg.NewContext(1, 1)
	measure.SetFontFace(face)
	charW, _ := measure.MeasureString("M")
	gutterW := charW*float64(len(strconv.Itoa(len(lines)))) + gutterGap

	lineH := size * lineSpacing
	w := int(math.Ceil(gutterW + charW*float64(longestLine(lines))))
	h := int(math.Ceil(lineH * float64(len(lines))))
	if w < 1 {
		w = 1
	}

	dc := gg.NewContext(w, h)
	dc.SetFontFace(face)

	for i, line := range lines {
		baseline := float64(i)*lineH + size

		dc.SetColor(lineNumberColor)
		dc.DrawStringAnchored(strconv.Itoa(i+1), gutterW-gutterGap, baseline, 1, 0)

		x := gutterW
		for _, tok := range line {
			text := strings.TrimRight(tok.Value, "\n")
			if text == "" {
				continue
			}
			dc.SetColor(r.tokenColor(tok.Type))
			dc.DrawString(text, x, baseline)
			tw, _ := dc.MeasureString(text)
			x += tw
		}
	}
	return dc.Image()
}

func (r *Renderer) tokenColor(t chroma.TokenType) color.Color {
	entry := r.style.Get(t)
	if !entry.Colour.IsSet() {
		return captionColor
	}
	return color.NRGBA{R: entry.Colour.Red(), G: entry.Colour.Green(), B: entry.Colour.Blue(), A: 0xff}
}

func (r *Renderer) windowColor() color.Color {
	bg := r.style.Get(chroma.Background).Background
	if !bg.IsSet() {
		return color.NRGBA{R: 0x27, G: 0x28, B: 0x22, A: 0xff}
	}
	return color.NRGBA{R: bg.Red(), G: bg.Green(), B: bg.Blue(), A: 0xff}
}

func (r *Renderer) drawWindow(dc *gg.Context, windowH float64) {
	x, y := float64(padding), float64(padding)
	w := float64(Width - 2*padding)

	dc.SetColor(r.windowColor())
	dc.DrawRoundedRectangle(x, y, w, windowH, windowRadius)
	dc.Fill()

	for i, c := range dotColors {
		dc.SetColor(c)
		dc.DrawCircle(x+32+float64(i)*30, y+headerHeight/2, dotRadius)
		dc.Fill()
	}

	if r.logo != nil {
		lb := r.logo.Bounds()
		lx := int(x+w) - lb.Dx() - 24
		ly := int(y) + (headerHeight-lb.Dy())/2
		dc.DrawImage(r.logo, lx, ly)
	}
}

func (r *Renderer) drawCaption(dc *gg.Context, caption string, height float64) {
	dc.SetFontFace(r.face(r.regular, captionSize))
	dc.SetColor(captionColor)
	dc.DrawStringAnchored(caption, Width/2, height-captionHeight/2, 0.5, 0.5)
}

func longestLine(lines [][]chroma.Token) int {
	longest := 0
	for _, line := range lines {
		n := 0
		for _, tok := range line {
			n += len([]rune(strings.TrimRight(tok.Value, "\n")))
		}
		if n > longest {
			longest = n
		}
	}
	return longest
}
