package extraction

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// OpenPDF parses and validates data in relaxed mode. The context is also
// optimized, which indexes the page images read by pageImages.
func OpenPDF(data []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
	if err := api.OptimizeContext(ctx); err != nil {
		return nil, fmt.Errorf("index pdf resources: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	return ctx, nil
}

// PageLines returns the reconstructed text lines of every page in order.
func PageLines(ctx *model.Context) ([]string, error) {
	var lines []string
	for page := 1; page <= ctx.PageCount; page++ {
		r, err := pdfcpu.ExtractPageContent(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d content: %w", page, err)
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("page %d content: %w", page, err)
		}
		lines = append(lines, ContentLines(content)...)
	}
	return lines, nil
}

// pageImage is one embedded image, ordered by page then object number.
type pageImage struct {
	page int
	obj  int
	data []byte
}

// pageImages returns the raster images embedded in the document in reading
// order.
func pageImages(ctx *model.Context) ([]pageImage, error) {
	var images []pageImage
	for page := 1; page <= ctx.PageCount; page++ {
		found, err := pdfcpu.ExtractPageImages(ctx, page, false)
		if err != nil {
			return nil, fmt.Errorf("page %d images: %w", page, err)
		}
		objs := make([]int, 0, len(found))
		for obj := range found {
			objs = append(objs, obj)
		}
		sort.Ints(objs)
		for _, obj := range objs {
			img := found[obj]
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("page %d image %d: %w", page, obj, err)
			}
			if len(data) > 0 {
				images = append(images, pageImage{page: page, obj: obj, data: data})
			}
		}
	}
	return images, nil
}
