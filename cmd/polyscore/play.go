package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polyscore/internal/assets"
	"polyscore/internal/config"
	"polyscore/internal/geometry"
	"polyscore/internal/groundtruth"
	"polyscore/internal/render"
	"polyscore/internal/result"
)

// parsePolygon accepts any of the ground-truth coordinate encodings, most
// usefully [[x,y],...] or a flat [x,y,...] list.
func parsePolygon(raw string) (geometry.Polygon, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("polygon is required")
	}
	var seg []any
	if err := json.Unmarshal([]byte(raw), &seg); err != nil {
		return nil, fmt.Errorf("polygon must be a JSON array: %w", err)
	}
	_, poly := groundtruth.NormalizeObject(groundtruth.Object{Segmentation: seg})
	if len(poly) < 3 {
		return nil, fmt.Errorf("polygon needs 3+ points, got %d", len(poly))
	}
	return poly, nil
}

// groundTruthURL returns explicit when set, else the configured payload for the
// phase: default_url before annotation mode, mode_url inside it.
func groundTruthURL(cfg *config.Config, explicit string, mode bool) string {
	if explicit != "" {
		return explicit
	}
	if mode {
		if cfg.GroundTruth.ModeURL != "" {
			return cfg.GroundTruth.ModeURL
		}
		return groundtruth.ModeURL
	}
	if cfg.GroundTruth.DefaultURL != "" {
		return cfg.GroundTruth.DefaultURL
	}
	return groundtruth.DefaultURL
}

func fetchGroundTruth(ctx context.Context, cfg *config.Config, url string) (*groundtruth.Set, error) {
	f := groundtruth.NewFetcher(cfg.GroundTruth.AssetsDir, cfg.FetchTimeout(), nil)
	return f.Fetch(ctx, url)
}

type objectScore struct {
	Index    int     `json:"index"`
	Label    string  `json:"label,omitempty"`
	Encoding string  `json:"encoding"`
	Points   int     `json:"points"`
	Area     float64 `json:"area"`
	IoU      float64 `json:"iou"`
}

type gtObject struct {
	Index    int              `json:"index"`
	Label    string           `json:"label,omitempty"`
	Encoding string           `json:"encoding"`
	Polygon  geometry.Polygon `json:"polygon"`
	Area     float64          `json:"area"`
}

type scoreReport struct {
	Objects  []objectScore   `json:"objects"`
	Best     *float64        `json:"best,omitempty"`
	Feedback result.Feedback `json:"feedback"`
}

func scoreCmd() *cobra.Command {
	var gtURL, polygon string
	var timedOut bool
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a polygon against ground truth",
		Example: `  polyscore score --polygon '[[0,0],[100,0],[100,100],[0,100]]'
  polyscore score --gt assets/other.json --polygon '[0,0,100,0,100,100]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			poly, err := parsePolygon(polygon)
			if err != nil {
				return err
			}
			set, err := fetchGroundTruth(cmd.Context(), cfg, groundTruthURL(cfg, gtURL, true))
			if err != nil {
				return err
			}
			report := scoreReport{Objects: []objectScore{}}
			for _, obj := range set.Objects {
				report.Objects = append(report.Objects, objectScore{
					Index:    obj.Index,
					Label:    obj.Label,
					Encoding: obj.Encoding.String(),
					Points:   len(obj.Polygon),
					Area:     geometry.Area(obj.Polygon),
					IoU:      geometry.IoU(poly, obj.Polygon),
				})
			}
			score := result.None
			if best, ok := geometry.BestIoU(poly, set.Polygons()); ok {
				report.Best = &best
				score = result.Some(best)
			}
			classifier := result.Classifier{PerfectThreshold: cfg.Game.PerfectThreshold, TimeBudget: cfg.Timeout()}
			report.Feedback = classifier.Classify(score, timedOut)
			if viper.GetBool("json") {
				return printJSON(report)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Label", "Encoding", "Points", "Area", "IoU"})
			for _, o := range report.Objects {
				tw.AppendRow(table.Row{o.Index, o.Label, o.Encoding, o.Points, fmt.Sprintf("%.1f", o.Area), fmt.Sprintf("%.4f", o.IoU)})
			}
			tw.Render()
			fmt.Println(report.Feedback.Headline)
			fmt.Println(report.Feedback.Detail)
			return nil
		},
	}
	cmd.Flags().StringVar(&gtURL, "gt", "", "ground truth URL or path (default ground_truth.mode_url)")
	cmd.Flags().StringVar(&polygon, "polygon", "", "polygon as a JSON array")
	cmd.Flags().BoolVar(&timedOut, "timed-out", false, "classify as a timed-out attempt")
	_ = cmd.MarkFlagRequired("polygon")
	return cmd
}

func gtCmd() *cobra.Command {
	gt := &cobra.Command{
		Use:   "gt",
		Short: "Inspect ground truth payloads",
	}
	var mode bool
	inspect := &cobra.Command{
		Use:   "inspect [url]",
		Short: "List the objects of a ground truth payload",
		Long:  "Without a url, inspects ground_truth.default_url, or mode_url with --mode.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			set, err := fetchGroundTruth(cmd.Context(), cfg, groundTruthURL(cfg, url, mode))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				out := make([]gtObject, 0, len(set.Objects))
				for _, obj := range set.Objects {
					out = append(out, gtObject{
						Index:    obj.Index,
						Label:    obj.Label,
						Encoding: obj.Encoding.String(),
						Polygon:  obj.Polygon,
						Area:     geometry.Area(obj.Polygon),
					})
				}
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Label", "Encoding", "Points", "Area", "Bounds"})
			for _, obj := range set.Objects {
				b := geometry.Bounds(obj.Polygon)
				tw.AppendRow(table.Row{
					obj.Index, obj.Label, obj.Encoding.String(), len(obj.Polygon),
					fmt.Sprintf("%.1f", geometry.Area(obj.Polygon)),
					fmt.Sprintf("(%.0f,%.0f)-(%.0f,%.0f)", b.MinX, b.MinY, b.MaxX, b.MaxY),
				})
			}
			tw.AppendFooter(table.Row{"", "", "scorable", set.Scorable(), "", ""})
			tw.Render()
			return nil
		},
	}
	inspect.Flags().BoolVar(&mode, "mode", false, "inspect ground_truth.mode_url instead of default_url")
	gt.AddCommand(inspect)
	return gt
}

func renderCmd() *cobra.Command {
	var gtURL, polygon, out, background string
	var width, height int
	var alpha float64
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render ground truth and a polygon to PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			frame := render.Frame{Alpha: alpha}
			if polygon != "" {
				if frame.Current, err = parsePolygon(polygon); err != nil {
					return err
				}
			}
			set, err := fetchGroundTruth(cmd.Context(), cfg, groundTruthURL(cfg, gtURL, true))
			if err != nil {
				return err
			}
			frame.GroundTruth = set.Polygons()

			store := assets.Store{Root: cfg.GroundTruth.AssetsDir}
			canvas, err := newRenderCanvas(cfg, store, background, width, height)
			if err != nil {
				return err
			}
			defer canvas.Close()
			if err := render.New().Draw(canvas, frame); err != nil {
				return err
			}
			fh, err := os.Create(out)
			if err != nil {
				return err
			}
			defer fh.Close()
			if err := canvas.EncodePNG(fh); err != nil {
				return err
			}
			w, h := canvas.Size()
			fmt.Printf("wrote %s (%dx%d)\n", out, w, h)
			return nil
		},
	}
	cmd.Flags().StringVar(&gtURL, "gt", "", "ground truth URL or path (default ground_truth.mode_url)")
	cmd.Flags().StringVar(&polygon, "polygon", "", "player polygon as a JSON array")
	cmd.Flags().StringVarP(&out, "out", "o", "overlay.png", "output PNG")
	cmd.Flags().StringVar(&background, "background", "", "image to draw over")
	cmd.Flags().IntVar(&width, "width", 0, "canvas width (default image size)")
	cmd.Flags().IntVar(&height, "height", 0, "canvas height (default image size)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "fade for the player polygon (0 is opaque)")
	return cmd
}

// newRenderCanvas picks the canvas size: a background image, explicit
// dimensions, the configured image size, then the probed image source.
func newRenderCanvas(cfg *config.Config, store assets.Store, background string, w, h int) (*render.Canvas, error) {
	if background != "" {
		img, _, err := store.Load(background)
		if err != nil {
			return nil, err
		}
		return render.NewCanvasOver(img), nil
	}
	if w <= 0 || h <= 0 {
		w, h = cfg.Image.Width, cfg.Image.Height
	}
	if (w <= 0 || h <= 0) && cfg.Image.Source != "" {
		info, err := store.Probe(cfg.Image.Source)
		if err != nil {
			return nil, err
		}
		w, h = info.Width, info.Height
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("canvas size unknown: pass --width/--height or --background")
	}
	return render.NewCanvas(w, h)
}
