package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Capture and dump the frame trace",
}

var traceDumpCmd = &cobra.Command{
	Use:   "dump <net> <path>",
	Short: "Run a short capture and write the annotated hex trace",
	Long: `Bring the network online (traffic from enumeration and inventory lands
in the ring) and write the capture to a file.

Example:
  axonctl trace dump 0 /tmp/net0.trace`,
	Args: cobra.ExactArgs(2),
	RunE: runTraceDump,
}

func init() {
	traceCmd.AddCommand(traceDumpCmd)
}

func runTraceDump(cmd *cobra.Command, args []string) error {
	net, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad network index %q", args[0])
	}

	d, err := openDriver(false)
	if err != nil {
		return err
	}
	defer d.Shutdown()

	if err := d.TraceDump(net, args[1]); err != nil {
		return err
	}

	stats, err := d.SerialStats(net)
	if err != nil {
		return err
	}
	fmt.Printf("trace written to %s (%d tx / %d rx frames)\n",
		args[1], stats.TxFrames, stats.RxFrames)
	return nil
}
