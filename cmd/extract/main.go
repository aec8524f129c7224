package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore"
	"github.com/wudi/pdfcore/extractor"
	"github.com/wudi/pdfcore/observability"
)

type featureSelection struct {
	Text   bool
	Images bool
	Fonts  bool
}

type options struct {
	pdfPath  string
	outDir   string
	password string
	layout   bool
	verbose  bool
	features featureSelection
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/extract [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	text := flag.Bool("text", false, "Extract text per page")
	images := flag.Bool("images", false, "Extract images to disk")
	fonts := flag.Bool("fonts", false, "Report font usage across pages")
	flag.BoolVar(&opts.layout, "layout", false, "Approximate the page layout in extracted text")
	flag.BoolVar(&opts.verbose, "v", false, "Log parser diagnostics to stderr")
	flag.StringVar(&opts.outDir, "out", "extract_output", "Directory for extracted images")
	flag.StringVar(&opts.password, "password", "", "Password to open encrypted PDFs")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, errors.New("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	opts.features = featureSelection{Text: *text, Images: *images, Fonts: *fonts}
	if opts.features == (featureSelection{}) {
		opts.features = featureSelection{Text: true, Images: true, Fonts: true}
	}
	return opts, nil
}

func run(opts options) error {
	var logger observability.Logger = observability.NopLogger{}
	if opts.verbose {
		logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	doc, err := pdfcore.Open(opts.pdfPath, pdfcore.WithPassword(opts.password), pdfcore.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "open pdf")
	}
	defer doc.Close()

	xopts := extractor.Options{Logger: logger}
	if opts.layout {
		xopts.Mode = extractor.ModeLayout
	}
	ext := extractor.New(doc.Graph(), xopts)

	if opts.features.Text {
		pages, err := ext.Document()
		if err != nil {
			return errors.Wrap(err, "extract text")
		}
		if err := emitSection("text", pages); err != nil {
			return err
		}
	}

	if opts.features.Images {
		pages, err := doc.Pages()
		if err != nil {
			return errors.Wrap(err, "read pages")
		}
		var assets []extractor.ImageAsset
		for _, p := range pages {
			found, err := ext.Images(p)
			if err != nil {
				logger.Warn("page images skipped", observability.Int("page", p.Index), observability.Error("error", err))
			}
			assets = append(assets, found...)
		}
		summaries, err := writeImages(filepath.Join(opts.outDir, "images"), assets)
		if err != nil {
			return err
		}
		if err := emitSection("images", summaries); err != nil {
			return err
		}
	}

	if opts.features.Fonts {
		fonts, err := ext.Fonts()
		if err != nil {
			return errors.Wrap(err, "extract fonts")
		}
		if err := emitSection("fonts", fonts); err != nil {
			return err
		}
	}
	return nil
}

type imageSummary struct {
	Page         int       `json:"page"`
	ResourceName string    `json:"resource"`
	Inline       bool      `json:"inline"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Bits         int       `json:"bitsPerComponent"`
	ColorSpace   string    `json:"colorSpace"`
	Filters      []string  `json:"filters,omitempty"`
	Placement    []float64 `json:"placement"`
	Path         string    `json:"path"`
}

func writeImages(dir string, assets []extractor.ImageAsset) ([]imageSummary, error) {
	if len(assets) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create image dir")
	}
	summaries := make([]imageSummary, 0, len(assets))
	for idx, asset := range assets {
		name := asset.ResourceName
		if name == "" {
			name = fmt.Sprintf("img_%d", idx+1)
		}
		filename := fmt.Sprintf("page-%03d-%03d-%s.bin", asset.Page+1, idx+1, safeName(name))
		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
			return nil, errors.Wrapf(err, "write image %q", path)
		}
		r := asset.Placement
		summaries = append(summaries, imageSummary{
			Page:         asset.Page,
			ResourceName: asset.ResourceName,
			Inline:       asset.Inline,
			Width:        asset.Width,
			Height:       asset.Height,
			Bits:         asset.BitsPerComponent,
			ColorSpace:   asset.ColorSpace,
			Filters:      asset.Filters,
			Placement:    []float64{r.LLX, r.LLY, r.URX, r.URY},
			Path:         path,
		})
	}
	return summaries, nil
}

func emitSection(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", name)
	}
	fmt.Printf("== %s ==\n%s\n\n", name, data)
	return nil
}

func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
