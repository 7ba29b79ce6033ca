package cmd

import (
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	sched "github.com/trainloop/lrsched/sched"
)

var (
	// CLI flags
	configPath string // Path to the training configuration YAML
	logLevel   string // Log verbosity level
	epoch      int    // Epoch to compute the rate for (0 = one past the last recorded epoch)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lrsched",
	Short: "Learning-rate schedule control for iterative training runs",
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadHistory builds the configured policy and history store, loading any
// persisted schedule named by learning_rate_file.
func loadHistory() *sched.History {
	if configPath == "" {
		logrus.Fatalf("Training config not provided. Use --config.")
	}
	cfg, err := sched.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	h, err := sched.FromConfig(cfg)
	if err != nil {
		logrus.Fatalf("Failed to build learning rate control: %v", err)
	}
	return h
}

// nextCmd computes (and persists) the rate for the next epoch
var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Compute the learning rate for the next epoch and persist it",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		h := loadHistory()

		target := epoch
		if target == 0 {
			epochs := h.Epochs()
			target = 1
			if len(epochs) > 0 {
				target = epochs[len(epochs)-1] + 1
			}
		}

		rate, err := h.GetRate(target)
		if err != nil {
			logrus.Fatalf("Failed to compute learning rate for epoch %d: %v", target, err)
		}
		if err := h.Save(); err != nil {
			logrus.Fatalf("Failed to save learning rate history: %v", err)
		}
		fmt.Printf("epoch %d: learning rate %g\n", target, rate)
	},
}

// showCmd prints the recorded schedule with summary statistics
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the recorded schedule and summary statistics",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		h := loadHistory()

		epochs := h.Epochs()
		rates := make([]float64, 0, len(epochs))
		for _, e := range epochs {
			rec, _ := h.Record(e)
			fmt.Printf("epoch %3d: learning rate %-12g error %v\n", e, rec.LearningRate, rec.Error)
			rates = append(rates, rec.LearningRate)
		}
		if len(rates) > 1 {
			mean, std := stat.MeanStdDev(rates, nil)
			fmt.Printf("rates: mean %.6g, stddev %.6g\n", mean, std)
		}
		if changes := relativeErrorChanges(h, epochs); len(changes) > 0 {
			fmt.Printf("relative error change per epoch: mean %.6g\n", stat.Mean(changes, nil))
		}
	},
}

// relativeErrorChanges collects (new-old)/abs(new) across consecutive epochs
// that both carry the resolved error measure.
func relativeErrorChanges(h *sched.History, epochs []int) []float64 {
	var changes []float64
	for i := 1; i < len(epochs); i++ {
		oldErr, err := h.ErrorValue(epochs[i-1])
		if err != nil {
			continue
		}
		newErr, err := h.ErrorValue(epochs[i])
		if err != nil || newErr == 0 {
			continue
		}
		changes = append(changes, (newErr-oldErr)/math.Abs(newErr))
	}
	return changes
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the training configuration YAML")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	nextCmd.Flags().IntVar(&epoch, "epoch", 0, "Epoch to compute the rate for (0 = one past the last recorded epoch)")

	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(showCmd)
}
