package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/tagvision/internal/capture"
	"github.com/andresmejia3/tagvision/internal/transport"
	"github.com/andresmejia3/tagvision/internal/utils"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cameras and serial ports available on this machine",
	Run: func(cmd *cobra.Command, args []string) {
		runDevices()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices() {
	cameras, err := capture.Devices()
	if err != nil {
		utils.Die("Failed to enumerate cameras", err, nil)
	}

	if len(cameras) == 0 {
		fmt.Println("No cameras found.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "INDEX\tDEVICE\tNAME")
		fmt.Fprintln(w, "-----\t------\t----")
		for _, d := range cameras {
			fmt.Fprintf(w, "%d\t%s\t%s\n", d.Index, d.Path, d.Name)
		}
		w.Flush()
	}

	ports, err := transport.SerialPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to list serial ports: %v\n", err)
		return
	}
	fmt.Println()
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return
	}
	fmt.Println("SERIAL PORTS")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
}
