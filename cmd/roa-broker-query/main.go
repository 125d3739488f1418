// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"roafetch/pkg/broker"
	"roafetch/pkg/config"
	"roafetch/pkg/logger"
	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
	"roafetch/pkg/roadump"
)

const version = "0.1.0"

type globalFlags struct {
	brokerURL string
	json      bool
	limit     int
	debug     bool
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "roa-broker-query",
		Short:         "Inspect the ROA archive broker and its dumps",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return logger.Init(logger.Config{Level: "warn", Debug: flags.debug, Console: true})
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.brokerURL, "broker-url", broker.DefaultBaseURL, "Broker base URL")
	pf.BoolVar(&flags.json, "json", false, "Output as JSON")
	pf.IntVar(&flags.limit, "limit", 0, "Limit number of results (0 = no limit)")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		slicesCommand(flags),
		dumpCommand(flags),
		infoCommand(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(flags *globalFlags) *broker.Client {
	cfg := broker.DefaultConfig()
	cfg.BrokerURL, cfg.InfoURL = broker.EndpointURLs(flags.brokerURL)
	return broker.NewClient(cfg, logger.WithComponent("roa-broker-query"))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func slicesCommand(flags *globalFlags) *cobra.Command {
	var collectors, intervals string

	cmd := &cobra.Command{
		Use:   "slices",
		Short: "List the archive slices the broker returns for collectors and intervals",
		Example: `  # List the slices of FU-Berlin CC01 and CC06 for one day
  roa-broker-query slices --collectors 'FU-Berlin:CC01,CC06(RTR)' --intervals 1438387200-1438473600`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pairs, err := config.ParseCollectors(collectors)
			if err != nil {
				return err
			}
			parsed, err := config.ParseIntervals(intervals)
			if err != nil {
				return err
			}
			if len(parsed) == 0 {
				return fmt.Errorf("%w: --intervals is required", model.ErrInvalidInput)
			}

			ctx, cancel := signalContext()
			defer cancel()

			projects, names := config.Split(pairs)
			resp, err := newClient(flags).Fetch(ctx, projects, names, model.FormatIntervals(parsed))
			if err != nil {
				return err
			}
			return printSlices(cmd.OutOrStdout(), resp, flags)
		},
	}
	cmd.Flags().StringVar(&collectors, "collectors", config.DefaultCollectors, "Project:collector pairs")
	cmd.Flags().StringVar(&intervals, "intervals", "", "Time intervals, e.g. 1438387200-1438473600")
	return cmd
}

type sliceOutput struct {
	Timestamp uint32   `json:"timestamp"`
	Dumps     []string `json:"dumps"`
}

func printSlices(w io.Writer, resp *broker.Response, flags *globalFlags) error {
	keys := resp.Sorted()
	if flags.limit > 0 && len(keys) > flags.limit {
		keys = keys[:flags.limit]
	}

	if flags.json {
		slices := make([]sliceOutput, 0, len(keys))
		for _, ts := range keys {
			slices = append(slices, sliceOutput{Timestamp: ts, Dumps: strings.Split(resp.Slices[ts], ",")})
		}
		return encodeJSON(w, map[string]interface{}{
			"projects":   resp.Projects,
			"collectors": resp.Collectors,
			"interval":   resp.Interval,
			"start":      resp.Start,
			"max_end":    resp.MaxEnd,
			"count":      len(resp.Slices),
			"slices":     slices,
		})
	}

	fmt.Fprintf(w, "Collectors: %s\n", config.FormatCollectors(resp.CollectorPairs()))
	fmt.Fprintf(w, "Interval %s, start %d, max end %d, %d slices (showing %d):\n",
		resp.Interval, resp.Start, resp.MaxEnd, len(resp.Slices), len(keys))
	for _, ts := range keys {
		fmt.Fprintf(w, "  %d  %s\n", ts, resp.Slices[ts])
	}
	return nil
}

func dumpCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <location>...",
		Short: "List the ROA records of dump URLs or files",
		Long: `List the ROA records of one or more dumps. A location is an http(s) URL,
a file:// URL or a local path; gzip compressed dumps are detected automatically.
The records of all locations are merged and listed in prefix order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			log := logger.WithComponent("roa-broker-query")
			importer := roadump.NewImporter(roadump.NewFetcher(roadump.FetcherConfig{}, log), nil, log)

			table := pfxtable.New()
			for _, location := range args {
				n, err := importer.ImportURL(ctx, location, table)
				if err != nil {
					return err
				}
				log.Debug().Str("location", location).Int("records", n).Msg("loaded dump")
			}
			return printROAs(cmd.OutOrStdout(), table, flags)
		},
	}
}

type roaOutput struct {
	ASN       uint32 `json:"asn"`
	Prefix    string `json:"prefix"`
	MaxLength uint8  `json:"max_length"`
}

func printROAs(w io.Writer, table *pfxtable.Table, flags *globalFlags) error {
	var roas []model.ROA
	table.ForEach(func(roa model.ROA) bool {
		if flags.limit > 0 && len(roas) >= flags.limit {
			return false
		}
		roas = append(roas, roa)
		return true
	})

	if flags.json {
		out := make([]roaOutput, 0, len(roas))
		for _, roa := range roas {
			out = append(out, roaOutput{ASN: roa.ASN, Prefix: roa.Prefix.String(), MaxLength: roa.MaxLength})
		}
		return encodeJSON(w, map[string]interface{}{
			"count": len(out),
			"total": table.Len(),
			"roas":  out,
		})
	}

	fmt.Fprintf(w, "%d ROAs (showing %d):\n", table.Len(), len(roas))
	for _, roa := range roas {
		fmt.Fprintf(w, "  AS%-10d %s\n", roa.ASN, roa)
	}
	return nil
}

func infoCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <project> <collector>",
		Short: "Look up the RTR cache server of a live collector",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			host, port, err := newClient(flags).Info(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if flags.json {
				return encodeJSON(cmd.OutOrStdout(), map[string]string{"host": host, "port": port})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", host, port)
			return nil
		},
	}
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
