package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qbenchsim/services/dataset"
)

func parseTriple(args []string) (dataset.Triple, error) {
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return dataset.Triple{}, fmt.Errorf("invalid size %q: %w", args[1], err)
	}
	t := dataset.Triple{Algorithm: args[0], Size: size, Backend: args[2]}
	if err := t.Key(false).Validate(); err != nil {
		return dataset.Triple{}, err
	}
	return t, nil
}

func writeIndex(w io.Writer, triples []dataset.Triple) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALGORITHM\tSIZE\tBACKEND")
	for _, t := range triples {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Algorithm, t.Size, t.Backend)
	}
	return tw.Flush()
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "List the (algorithm, size, backend) triples of the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			triples, err := a.catalog().Index(a.cfg.Engine.Dataset)
			if err != nil {
				return err
			}
			return writeIndex(cmd.OutOrStdout(), triples)
		},
	}
}

func newDownloadCmd(a *app) *cobra.Command {
	var (
		name  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Download and install a dataset archive",
		Long:  "Download a zip, tar, tar.gz, tar.bz2 or tar.zst archive and install it under the datasets path. The dataset name defaults to the archive stem.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dataset.NewDownloader(a.catalog(), a.cfg.Dataset.DownloadRetries, a.cfg.Dataset.DownloadTimeout, a.logger)
			triples, err := d.Download(cmd.Context(), args[0], name, force)
			if err != nil {
				return err
			}
			a.logger.Info("dataset ready", zap.String("url", args[0]), zap.Int("entries", len(triples)))
			return writeIndex(cmd.OutOrStdout(), triples)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "dataset name (default: archive stem)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing dataset of the same name")
	return cmd
}

func newBackendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backend ALGORITHM SIZE BACKEND",
		Short: "Print the backend description recorded for a circuit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTriple(args)
			if err != nil {
				return err
			}
			backend, err := a.catalog().Backend(a.cfg.Engine.Dataset, t)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(backend)
		},
	}
}

func newCircuitCmd(a *app) *cobra.Command {
	var mirror bool
	cmd := &cobra.Command{
		Use:   "circuit ALGORITHM SIZE BACKEND",
		Short: "Print the OpenQASM source recorded for a circuit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTriple(args)
			if err != nil {
				return err
			}
			qasm, err := a.catalog().Circuit(a.cfg.Engine.Dataset, t, mirror)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), qasm)
			return err
		},
	}
	cmd.Flags().BoolVar(&mirror, "mirror", false, "print the mirrored circuit")
	return cmd
}
