// Command freightpdf exports a report image, an HTML document or a JSON
// records payload to a paginated PDF without running the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drummonds/freightdesk/inspect"
	"github.com/drummonds/freightdesk/normalize"
	"github.com/drummonds/freightdesk/paginator"
	"github.com/drummonds/freightdesk/rasterize"
	"github.com/drummonds/freightdesk/report"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

type options struct {
	in       string
	out      string
	title    string
	kind     string
	selector string
	footer   string
	pageSize string
	chrome   string
	scale    float64
	timeout  time.Duration
	inspect  bool
	verbose  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("freightpdf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.in, "in", "", "Input file: .png/.jpg/.gif image, .html document or .json records")
	fs.StringVar(&o.out, "out", "", "Output PDF (default: input name with .pdf)")
	fs.StringVar(&o.title, "title", "", "Report title for JSON input")
	fs.StringVar(&o.kind, "report", "table", "Report layout for JSON input: table or profitloss")
	fs.StringVar(&o.selector, "selector", "", "CSS selector of the report root for HTML input")
	fs.StringVar(&o.footer, "footer", "", "Footer template with {page} and {total} placeholders")
	fs.StringVar(&o.pageSize, "page-size", paginator.DefaultPageSize, "Page size name")
	fs.StringVar(&o.chrome, "chrome", "", "Chrome/Chromium executable (default: search PATH)")
	fs.Float64Var(&o.scale, "scale", 0, "Rasterization scale (default: 1 for images, 2 otherwise)")
	fs.DurationVar(&o.timeout, "timeout", time.Minute, "Time allowed for rasterization")
	fs.BoolVar(&o.inspect, "inspect", false, "Read the PDF back and print a page summary")
	fs.BoolVar(&o.verbose, "v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.in == "" {
		fs.Usage()
		return o, errors.New("-in is required")
	}
	if o.out == "" {
		o.out = strings.TrimSuffix(o.in, filepath.Ext(o.in)) + ".pdf"
	}
	return o, nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "freightpdf:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	rasterize.Logger = Logger

	if o.scale == 0 && isImage(o.in) {
		o.scale = 1
	}
	surface, cleanup, err := buildSurface(o)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	doc, err := paginator.Export(ctx, surface, paginator.Options{
		Filename:   filepath.Base(o.out),
		FooterText: paginator.FooterFromTemplate(o.footer),
		Scale:      o.scale,
		PageSize:   o.pageSize,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.out, doc.PDF, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", o.out, err)
	}
	fmt.Fprintf(stdout, "%s: %d page(s), %d bytes\n", o.out, doc.PageCount(), len(doc.PDF))

	if o.inspect {
		summary, err := inspect.Inspect(doc.PDF)
		if err != nil {
			return err
		}
		for _, p := range summary.Pages {
			fmt.Fprintf(stdout, "  page %d: %.0fx%.0fmm %q\n", p.Number, p.WidthMm, p.HeightMm, p.Text)
		}
	}
	return nil
}

// buildSurface picks the surface for the input file. The cleanup func
// releases the browser when one was started.
func buildSurface(o options) (paginator.Surface, func(), error) {
	noop := func() {}
	f, err := os.Open(o.in)
	if err != nil {
		return nil, noop, err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(o.in)); {
	case isImage(o.in):
		s, err := paginator.DecodeImageSurface(f)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case ext == ".html" || ext == ".htm":
		b, err := io.ReadAll(f)
		if err != nil {
			return nil, noop, err
		}
		return htmlSurface(o, string(b), o.selector)
	case ext == ".json":
		raw, err := normalize.Decode(f)
		if err != nil {
			return nil, noop, err
		}
		resp := normalize.Normalize(raw)
		Logger.Info("Records loaded", "records", len(resp.Items), "totalCount", resp.TotalCount)
		html, err := renderRecords(o, resp)
		if err != nil {
			return nil, noop, err
		}
		return htmlSurface(o, html, report.RootSelector)
	default:
		return nil, noop, fmt.Errorf("unsupported input type %q", ext)
	}
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

func renderRecords(o options, resp normalize.Response) (string, error) {
	header := report.Header{Title: o.title}
	switch o.kind {
	case "", "table":
		return report.Table{Header: header, Records: resp.Items, TotalCount: resp.TotalCount}.Render()
	case "profitloss":
		return report.NewProfitLoss(header, resp.Items, report.ProfitLossKeys{}).Render()
	default:
		return "", fmt.Errorf("unknown report %q", o.kind)
	}
}

func htmlSurface(o options, html, selector string) (paginator.Surface, func(), error) {
	browser := rasterize.NewBrowser(o.chrome)
	return rasterize.HTMLSurface{
		Browser:  browser,
		HTML:     html,
		Selector: selector,
		WidthPx:  rasterize.A4WidthCSSPx,
		Timeout:  o.timeout,
	}, func() { browser.Close() }, nil
}
