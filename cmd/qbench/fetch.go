package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"qbenchsim/services/api"
	"qbenchsim/services/arrowpipeline"
	"qbenchsim/services/engine"
)

type fetchFlags struct {
	shots  int
	mirror bool
	exact  bool
	random bool
	seed   int64
	repeat int
	format string
}

func newFetchCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch ALGORITHM SIZE BACKEND",
		Short: "Retrieve outcomes for a circuit from its recorded histories",
		Example: `  qbench fetch dj 4 ibm_lagos --shots 1000
  qbench fetch qft 3 sim --shots 512 --exact --random --seed 7
  qbench fetch ghz 5 sim --shots 100 --repeat 3 --format text`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", args[1], err)
			}
			if f.repeat < 1 {
				return fmt.Errorf("--repeat must be >= 1, got %d", f.repeat)
			}
			req := engine.Request{
				Algorithm: args[0],
				Size:      size,
				Backend:   args[2],
				Mirror:    f.mirror,
				Shots:     f.shots,
				Exact:     f.exact,
				Random:    f.random,
			}
			if cmd.Flags().Changed("seed") {
				seed := f.seed
				req.Seed = &seed
			}

			results := make([]*engine.Result, 0, f.repeat)
			for i := 0; i < f.repeat; i++ {
				res, err := a.engine.Fetch(cmd.Context(), req)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return writeResults(cmd, a, f.format, results)
		},
	}
	cmd.Flags().IntVar(&f.shots, "shots", 0, "number of shots to retrieve")
	cmd.Flags().BoolVar(&f.mirror, "mirror", false, "read the mirrored circuit's histories")
	cmd.Flags().BoolVar(&f.exact, "exact", false, "resample so the total equals --shots")
	cmd.Flags().BoolVar(&f.random, "random", false, "draw records at random instead of continuing from the cursor")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "seed for random draws and exact resampling")
	cmd.Flags().IntVar(&f.repeat, "repeat", 1, "number of consecutive retrievals")
	cmd.Flags().StringVar(&f.format, "format", "json", "output format: json, text or arrow")
	_ = cmd.MarkFlagRequired("shots")
	return cmd
}

func writeResults(cmd *cobra.Command, a *app, format string, results []*engine.Result) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		for _, res := range results {
			if err := enc.Encode(api.ToResponse(res)); err != nil {
				return err
			}
		}
		return nil
	case "text":
		for _, res := range results {
			if err := writeText(out, res); err != nil {
				return err
			}
		}
		return nil
	case "arrow":
		pipeline, err := arrowpipeline.NewPipeline(nil, a.logger)
		if err != nil {
			return err
		}
		defer pipeline.Close()
		batches := make(chan arrowpipeline.Batch, len(results))
		for _, res := range results {
			batches <- arrowpipeline.Batch{RequestID: res.RequestID, Dataset: res.Dataset, Key: res.Key, Counts: res.Counts}
		}
		close(batches)
		return pipeline.Stream(cmd.Context(), batches, out)
	default:
		return fmt.Errorf("unknown format %q (want json, text or arrow)", format)
	}
}

func writeText(w io.Writer, res *engine.Result) error {
	fmt.Fprintf(w, "# %s %s %s total=%d cursor=%d->%d\n",
		res.RequestID, res.Key, res.Mode, res.Total(), res.CursorStart, res.CursorEnd)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	props := res.Counts.Proportions(api.ProportionPlaces)
	for _, bits := range res.Counts.Keys() {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", bits, res.Counts[bits], props[bits])
	}
	return tw.Flush()
}
