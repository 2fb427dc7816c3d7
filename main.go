package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hadv/powminer/config"
	"github.com/hadv/powminer/logger"
	"github.com/hadv/powminer/miner"
	"github.com/hadv/powminer/miningstate"
	"github.com/hadv/powminer/pool"
	"github.com/hadv/powminer/telemetry"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const logo = `
 ____   _____        __  __  __ _
|  _ \ / _ \ \      / / |  \/  (_)_ __   ___ _ __
| |_) | | | \ \ /\ / /  | |\/| | | '_ \ / _ \ '__|
|  __/| |_| |\ V  V /   | |  | | | | | |  __/ |
|_|    \___/  \_/\_/    |_|  |_|_|_| |_|\___|_|

      ⛏️  keccak256 pool miner  ⛏️
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configPath string

	root := &cobra.Command{
		Use:           "powminer",
		Short:         "Multi-device keccak256 proof-of-work pool miner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMiner(cmd.Context(), v, configPath)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultFile, "Path to the JSON configuration file")
	flags.IntP("threads", "t", 0, "Number of CPU mining threads (overrides the config file)")
	flags.Bool("simd", false, "Use the AVX2 4-way CPU solver where available")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-file", "", "Also write JSON logs to this rotating file")
	flags.String("telemetry", "", "Listen address of the telemetry server, e.g. :8080")

	for key, flag := range map[string]string{
		"threads":   "threads",
		"simd":      "simd",
		"log_level": "log-level",
		"log_file":  "log-file",
		"telemetry": "telemetry",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start mining (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMiner(cmd.Context(), v, configPath)
			},
		},
		newListGPUsCmd(),
	)
	return root
}

func runMiner(ctx context.Context, v *viper.Viper, configPath string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	fmt.Print(logo)

	state, err := miningstate.New(cfg.StateOptions())
	if err != nil {
		return err
	}
	if cfg.CustomDiff > 0 {
		state.SetCustomDiff(cfg.CustomDiff)
	}

	solvers, err := miner.BuildSolvers(state, cfg.MinerOptions(), log)
	if err != nil {
		return errors.Wrap(err, "failed to initialize mining devices")
	}
	hybrid := miner.NewHybridMiner(state, solvers, log)

	client := pool.NewClient(cfg.Pool, cfg.RequestTimeout)
	worker := pool.NewWorker(state, client, hybrid, cfg.PoolOptions(), log)
	reporter := telemetry.NewReporter(state, hybrid, telemetry.DefaultReportInterval, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("pool", state.PoolURL()).
		Str("address", cfg.Address).
		Str("token", state.Token()).
		Bool("custom_diff", state.CustomDiff()).
		Bool("submit_stale", state.SubmitStale()).
		Msg("starting miner")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hybrid.Run(ctx) })
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return reporter.Run(ctx) })
	if cfg.Telemetry != "" {
		server := telemetry.NewServer(cfg.Telemetry, version, state, hybrid, worker.Stats(), log)
		g.Go(func() error { return server.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("miner stopped")
	return nil
}

func newListGPUsCmd() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "list-gpus",
		Short: "List available CUDA and OpenCL devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch backend {
			case "cuda":
				return listCUDA()
			case "opencl":
				return listOpenCL()
			case "all":
				cudaErr := listCUDA()
				clErr := listOpenCL()
				if cudaErr != nil && clErr != nil {
					return errors.Errorf("no GPU backend available: %v; %v", cudaErr, clErr)
				}
				return nil
			default:
				return errors.Errorf("unknown backend %q, expected cuda, opencl or all", backend)
			}
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "all", "GPU backend to list: cuda, opencl or all")
	return cmd
}

func listCUDA() error {
	gpus, err := miner.ListCUDADevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing CUDA GPUs: %v\n", err)
		return err
	}
	if len(gpus) == 0 {
		fmt.Println("No CUDA GPU devices found")
		return nil
	}
	fmt.Printf("Found %d CUDA GPU device(s):\n\n", len(gpus))
	for _, gpu := range gpus {
		fmt.Printf("  Device %d: %s\n", gpu.Index, gpu.Name)
		fmt.Printf("    Compute Units (SMs): %d\n", gpu.ComputeUnits)
		fmt.Printf("    Max Threads per Block: %d\n", gpu.MaxWorkSize)
		fmt.Printf("    Total Memory: %d MB\n\n", gpu.TotalMemory/(1024*1024))
	}
	return nil
}

func listOpenCL() error {
	gpus, err := miner.ListOpenCLDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing OpenCL GPUs: %v\n", err)
		return err
	}
	if len(gpus) == 0 {
		fmt.Println("No OpenCL GPU devices found")
		return nil
	}
	fmt.Printf("Found %d OpenCL GPU device(s):\n\n", len(gpus))
	for _, gpu := range gpus {
		fmt.Printf("  Device %d: %s\n", gpu.Index, gpu.Name)
		fmt.Printf("    Platform: %s\n", gpu.Platform)
		fmt.Printf("    Vendor: %s\n", gpu.Vendor)
		fmt.Printf("    Compute Units: %d\n", gpu.ComputeUnits)
		fmt.Printf("    Max Work Group Size: %d\n\n", gpu.MaxWorkSize)
	}
	return nil
}
