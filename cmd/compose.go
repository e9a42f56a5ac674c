package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/vtc-sched/sched/workload"
)

var composeFromPaths []string

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Merge multiple workload specs into one",
	Long:  "Load multiple workload spec YAML files and merge their client lists, keeping each client's absolute arrival rate. Output is written to stdout.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := composeWorkloads(composeFromPaths, os.Stdout); err != nil {
			logrus.Fatalf("Compose failed: %v", err)
		}
	},
}

func composeWorkloads(paths []string, out io.Writer) error {
	if len(paths) == 0 {
		return fmt.Errorf("at least one --from flag is required")
	}
	var specs []*workload.WorkloadSpec
	for _, path := range paths {
		spec, err := workload.LoadWorkloadSpec(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		specs = append(specs, spec)
	}
	merged, err := workload.ComposeSpecs(specs)
	if err != nil {
		return err
	}
	return merged.WriteYAML(out)
}

func init() {
	composeCmd.Flags().StringArrayVar(&composeFromPaths, "from", nil, "Path to a workload spec YAML file (can be repeated)")
	_ = composeCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(composeCmd)
}
