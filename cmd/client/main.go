package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/VoolFI71/pollkv/internal/bench"
	"github.com/VoolFI71/pollkv/internal/client"
	"github.com/VoolFI71/pollkv/internal/config"
)

var (
	v       = config.NewViper()
	rootCmd = &cobra.Command{
		Use:   "kv-cli [command] [args...]",
		Short: "Send one request to the key-value server",
		Long: `Send one request to the key-value server and print the response,
e.g. "kv-cli set greeting hello" or "kv-cli keys".`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         runRequest,
	}
	benchCmd = &cobra.Command{
		Use:          "bench",
		Short:        "Run SET/GET load against the server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runBench,
	}
)

func init() {
	cobra.OnInitialize(config.LoadEnvFiles)

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:1234", "Server address")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Dial and I/O timeout")
	rootCmd.Flags().SetInterspersed(false)

	benchCmd.Flags().Int("ops", 100000, "Total operations per run")
	benchCmd.Flags().Int("clients", 10, "Concurrent connections")
	benchCmd.Flags().Int("pipeline", 100, "Requests per batch for pipelined runs")
	benchCmd.Flags().Int("keyspace", 10000, "Keys preloaded for GET runs")
	benchCmd.Flags().String("kind", "all", "Runs to execute: set, get, mixed or all")
	rootCmd.AddCommand(benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRequest(cmd *cobra.Command, args []string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	timeout := v.GetDuration("timeout")

	c, err := client.DialTimeout(v.GetString("addr"), timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	if timeout > 0 {
		if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	res, err := c.DoStrings(args...)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.String())
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	opts := bench.Options{
		Addr:    v.GetString("addr"),
		Ops:     v.GetInt("ops"),
		Clients: v.GetInt("clients"),
		Timeout: v.GetDuration("timeout"),
	}
	keyspace := max(v.GetInt("keyspace"), 1)
	pipeline := v.GetInt("pipeline")
	kind := strings.ToLower(v.GetString("kind"))

	type run struct {
		name     string
		op       bench.Op
		pipeline int
	}
	var runs []run
	if kind == "set" || kind == "all" {
		runs = append(runs,
			run{"SET", bench.SetOp, 1},
			run{fmt.Sprintf("SET pipeline (batch=%d)", pipeline), bench.SetOp, pipeline})
	}
	if kind == "get" || kind == "all" {
		runs = append(runs,
			run{"GET", bench.GetOp(keyspace), 1},
			run{fmt.Sprintf("GET pipeline (batch=%d)", pipeline), bench.GetOp(keyspace), pipeline})
	}
	if kind == "mixed" || kind == "all" {
		runs = append(runs, run{"Mixed 50% SET / 50% GET", bench.MixedOp(keyspace), 1})
	}
	if len(runs) == 0 {
		return fmt.Errorf("invalid kind %q (expected set, get, mixed or all)", kind)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "benchmarking %s: %d ops, %d clients\n", opts.Addr, opts.Ops, opts.Clients)
	if kind != "set" {
		if err := bench.Prepare(opts, keyspace); err != nil {
			return fmt.Errorf("preload keys: %w", err)
		}
	}
	for _, r := range runs {
		o := opts
		o.Pipeline = r.pipeline
		res, err := bench.Run(r.name, o, r.op)
		if err != nil {
			return err
		}
		res.Print(out)
	}
	return nil
}
