package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keagan/artcannon/internal/config"
	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/encoder"
	"github.com/keagan/artcannon/internal/engine"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/jobs"
	"github.com/keagan/artcannon/internal/media"
)

func newEngine(ctx context.Context) (*engine.Engine, error) {
	cfg := config.FromContext(ctx)

	exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}
	return engine.New(log.Logger, cfg.Engine(), exec)
}

// probeSource opens the engine and reads the input's metadata
func probeSource(cmd *cobra.Command, path string) (*engine.Engine, media.Source, error) {
	e, err := newEngine(cmd.Context())
	if err != nil {
		return nil, media.Source{}, err
	}
	src, err := e.Probe(cmd.Context(), path)
	if err != nil {
		e.Close()
		return nil, media.Source{}, err
	}
	return e, src, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Print the metadata the engine sees for a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, src, err := probeSource(cmd, args[0])
		if err != nil {
			return err
		}
		defer e.Close()
		return printJSON(cmd.OutOrStdout(), src)
	},
}

var (
	effectName string
	intensity  float64
	cropFlag   string
	trimFlag   string
	resizeFlag string
)

var processCmd = &cobra.Command{
	Use:   "process [input video]",
	Short: "Apply an artistic effect to a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := effects.ParseKind(effectName)
		if err != nil {
			return err
		}
		spec := effects.Spec{Kind: kind, Intensity: intensity}
		if spec.Crop, err = parseCrop(cropFlag); err != nil {
			return err
		}
		if spec.Trim, err = parseTrim(trimFlag); err != nil {
			return err
		}
		if spec.Resize, err = parseSize(resizeFlag); err != nil {
			return err
		}

		e, src, err := probeSource(cmd, args[0])
		if err != nil {
			return err
		}
		// Run jobs on a context that outlives Ctrl-C so the cancel below
		// can stop the job cleanly
		e.Start(context.WithoutCancel(cmd.Context()))
		defer e.Close()

		id, err := e.Submit(cmd.Context(), src, spec)
		if err != nil {
			return err
		}
		log.Info().Str("job_id", id).Str("spec", spec.String()).Msg("job submitted")

		job, err := waitWithProgress(cmd.Context(), e, id)
		if err != nil {
			log.Warn().Err(err).Msg("interrupted, cancelling job")
			if cerr := e.Cancel(id); cerr != nil {
				return cerr
			}
			job, err = e.Wait(context.Background(), id)
			if err != nil {
				return err
			}
		}
		if err := printJSON(cmd.OutOrStdout(), job); err != nil {
			return err
		}
		path, err := e.OutputPath(id)
		if err != nil {
			return err
		}
		log.Info().
			Str("path", path).
			Str("download_name", media.SafeOutputName(src.Path, string(kind), filepath.Ext(path))).
			Msg("output ready")
		return nil
	},
}

func waitWithProgress(ctx context.Context, e *engine.Engine, id string) (jobs.Job, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := -1.0
	for {
		job, err := e.Status(id)
		if err != nil {
			return jobs.Job{}, err
		}
		if job.Progress != last {
			log.Info().Str("job_id", id).Float64("progress", job.Progress).Str("state", string(job.State)).Msg(job.Message)
			last = job.Progress
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

var recommendCmd = &cobra.Command{
	Use:   "recommend [input video]",
	Short: "Suggest effects from sampled frame statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, src, err := probeSource(cmd, args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Recommend(cmd.Context(), src)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var compareEffects string

var compareCmd = &cobra.Command{
	Use:   "compare [input video]",
	Short: "Render a side-by-side grid of several effects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := parseKinds(compareEffects)
		if err != nil {
			return err
		}

		e, src, err := probeSource(cmd, args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.BuildComparison(cmd.Context(), src, kinds)
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
		return err
	},
}

var previewCount int

var previewCmd = &cobra.Command{
	Use:   "preview [input video]",
	Short: "Extract evenly spaced JPEG thumbnails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, src, err := probeSource(cmd, args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		paths, err := e.Previews(cmd.Context(), src, previewCount)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:       "list [effects|encoders]",
	Short:     "List available effects or encoder candidates",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"effects", "encoders"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "effects":
			for _, k := range effects.Kinds() {
				fmt.Fprintln(out, k)
			}
			return nil
		case "encoders":
			exec, err := ffmpeg.New(log.Logger, 0)
			if err != nil {
				return err
			}
			available, err := exec.ListEncoders(cmd.Context())
			if err != nil {
				return err
			}
			have := make(map[string]bool, len(available))
			for _, name := range available {
				have[name] = true
			}
			for _, c := range encoder.DefaultCandidates() {
				status := "missing"
				if have[c.Codec] {
					status = "available"
				}
				fmt.Fprintf(out, "%-10s %-8s %-5s %s\n", c.Name, c.Codec, c.Ext, status)
			}
			return nil
		}
		return fmt.Errorf("unknown resource %q, want effects or encoders", args[0])
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report ffmpeg availability and host headroom",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return printJSON(cmd.OutOrStdout(), e.Health(cmd.Context()))
	},
}

func parseKinds(s string) ([]effects.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var kinds []effects.Kind
	for _, part := range strings.Split(s, ",") {
		k, err := effects.ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func init() {
	processCmd.Flags().StringVarP(&effectName, "effect", "e", "pencil", "effect kind")
	processCmd.Flags().Float64VarP(&intensity, "intensity", "i", 0.7, "effect strength in [0, 1]")
	processCmd.Flags().StringVar(&cropFlag, "crop", "", "crop rectangle x,y,width,height in source pixels")
	processCmd.Flags().StringVar(&trimFlag, "trim", "", "time window start,end in seconds or [HH:]MM:SS")
	processCmd.Flags().StringVar(&resizeFlag, "resize", "", "output size WIDTHxHEIGHT")

	compareCmd.Flags().StringVar(&compareEffects, "effects", "", "comma-separated effect kinds (default pencil,cartoon,oil_painting,watercolor)")
	previewCmd.Flags().IntVarP(&previewCount, "count", "n", 0, "number of thumbnails (default from config)")

	configCmd.AddCommand(configShowCmd)
}
