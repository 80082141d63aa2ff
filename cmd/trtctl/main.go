// trtctl inspects serialized engine records and the host's device registry.
//
//	trtctl devices                  list the accelerators visible to this process
//	trtctl inspect <record>         describe a serialized engine record
//	trtctl inspect --deep <record>  also deserialize the plan and list its bindings
//	trtctl key <plan>               print the engine-cache key of raw plan bytes
package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/NVIDIA/Torch-TensorRT/plans"
	_ "github.com/NVIDIA/Torch-TensorRT/plans/simgo"
	"github.com/NVIDIA/Torch-TensorRT/runtime"
	"github.com/NVIDIA/Torch-TensorRT/runtime/cache"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Width(22)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trtctl",
		Short:         "Inspect serialized engine records and host devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	rootCmd.AddCommand(devicesCmd(), inspectCmd(), keyCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "trtctl: %+v\n", err)
		os.Exit(1)
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the accelerators visible to this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := runtime.Devices()
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("%d device(s)", list.Len())))
			for _, device := range list.Devices() {
				fmt.Printf("  %s\n", device)
			}
			if list.Len() == 0 {
				fmt.Println(dimStyle.Render(fmt.Sprintf("  hint: set %s, e.g. \"gpu:0:8.6;dla:1:3.0\"", runtime.DevicesEnvVar)))
			}
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "inspect <record-file>",
		Short: "Describe a serialized engine record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordBytes, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			record, err := runtime.DecodeRecord(recordBytes)
			if err != nil {
				return err
			}
			printField := func(key string, format string, values ...any) {
				fmt.Printf("%s %s\n", keyStyle.Render(key), fmt.Sprintf(format, values...))
			}
			fmt.Println(titleStyle.Render("Engine record " + args[0]))
			printField("name", "%s", record.Name)
			printField("ABI version", "%s", record.ABIVersion)
			printField("target platform", "%s", record.TargetPlatform)
			printField("target device", "%s", record.Device)
			printField("hardware compatible", "%v", record.HardwareCompatible)
			printField("plan size", "%s", humanize.IBytes(uint64(len(record.PlanBytes))))
			printField("cache key", "%s", cache.Key(record.PlanBytes))
			printField("inputs", "%v", record.InputNames)
			printField("outputs", "%v", record.OutputNames)
			if len(record.Metadata) > 0 {
				printField("metadata", "%s", humanize.IBytes(uint64(len(record.Metadata))))
			}
			if !deep {
				return nil
			}

			planRuntime, err := plans.Get(record.TargetPlatform)
			if err != nil {
				return err
			}
			plan, err := planRuntime.Deserialize(record.PlanBytes)
			if err != nil {
				return err
			}
			defer plan.Finalize()
			fmt.Println(titleStyle.Render("Bindings (" + planRuntime.Name() + ")"))
			for _, slot := range plan.Slots() {
				direction := "out"
				if slot.IsInput {
					direction = "in"
				}
				profile := fmt.Sprintf("min=%v opt=%v max=%v", slot.Min, slot.Opt, slot.Max)
				if slot.IsStatic() {
					profile = dimStyle.Render(fmt.Sprintf("static %v", slot.Opt))
				}
				fmt.Printf("  %-4s %-16s %-10s %s\n", direction, slot.Name, slot.DType, profile)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "deserialize the plan and list its bindings")
	return cmd
}

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <plan-file>",
		Short: "Print the engine-cache key of raw plan bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planBytes, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Println(cache.Key(planBytes))
			return nil
		},
	}
}
