package ocrpipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/image/draw"
)

// pdfMagic is the byte marker a valid PDF MUST begin with.
const pdfMagic = "%PDF"

// targetDPI is the rasterization target resolution.
const targetDPI = 300

// ErrMalformedInput is returned when the fetched bytes aren't a PDF.
var ErrMalformedInput = fmt.Errorf("ocrpipeline: malformed-input")

// ValidatePDF checks the %PDF magic marker.
func ValidatePDF(data []byte) error {
	if len(data) < len(pdfMagic) || string(data[:len(pdfMagic)]) != pdfMagic {
		return ErrMalformedInput
	}
	return nil
}

// PageCount returns the PDF's page count via pdfcpu.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("ocrpipeline: page count: %w", err)
	}
	return n, nil
}

// Rasterize renders every page of a validated PDF to a 300dpi PNG image,
// shelling out to pdftoppm (poppler-utils) the same way the teacher's
// ingest pipeline rendered pages — pdfcpu's own image extraction pulls
// embedded image objects whose numbering does not reliably match page
// order, so it is used here only for validation/page counting, not
// rendering. Each page is optionally upscaled by upscaleFactor (capped at
// DefaultUpscaleFactorCap), preserving aspect ratio.
func Rasterize(ctx context.Context, pdfData []byte, upscaleFactor float64) ([]RasterPage, error) {
	if err := ValidatePDF(pdfData); err != nil {
		return nil, err
	}

	count, err := PageCount(pdfData)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "registryctl-rasterize-*")
	if err != nil {
		return nil, fmt.Errorf("ocrpipeline: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(srcPath, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("ocrpipeline: write source pdf: %w", err)
	}

	pages := make([]RasterPage, 0, count)
	for pageNum := 1; pageNum <= count; pageNum++ {
		img, err := renderPage(ctx, srcPath, pageNum, tmpDir)
		if err != nil {
			return nil, fmt.Errorf("ocrpipeline: render page %d: %w", pageNum, err)
		}
		if upscaleFactor > 1 {
			img = upscale(img, clampUpscale(upscaleFactor))
		}
		pages = append(pages, RasterPage{Number: pageNum, Image: img})
	}
	return pages, nil
}

func clampUpscale(factor float64) float64 {
	if factor > DefaultUpscaleFactorCap {
		return DefaultUpscaleFactorCap
	}
	if factor < 1 {
		return 1
	}
	return factor
}

func renderPage(ctx context.Context, srcPath string, pageNum int, tmpDir string) (image.Image, error) {
	outputPrefix := filepath.Join(tmpDir, fmt.Sprintf("page-%d", pageNum))
	pageStr := fmt.Sprintf("%d", pageNum)

	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", targetDPI),
		"-singlefile",
		srcPath,
		outputPrefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not produce expected output: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	return img, nil
}

// lanczos3 is a custom golang.org/x/image/draw kernel implementing the
// standard Lanczos-3 windowed-sinc filter; x/image/draw ships
// ApproxBiLinear/BiLinear/CatmullRom but not Lanczos by name, so the kernel
// function is supplied directly per draw.Kernel's documented extension
// point.
var lanczos3 = draw.Kernel{Support: 3, At: lanczos3At}

func lanczos3At(t float64) float64 {
	if t == 0 {
		return 1
	}
	if t < -3 || t > 3 {
		return 0
	}
	piT := math.Pi * t
	return 3 * math.Sin(piT) * math.Sin(piT/3) / (piT * piT)
}

// upscale scales img by factor using Lanczos-3, preserving aspect ratio.
func upscale(img image.Image, factor float64) image.Image {
	bounds := img.Bounds()
	newW := int(math.Round(float64(bounds.Dx()) * factor))
	newH := int(math.Round(float64(bounds.Dy()) * factor))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	lanczos3.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// EncodePNG encodes img as a PNG, used by runPage to attach a rasterized/
// upscaled page image to its vision-model calls.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("ocrpipeline: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
