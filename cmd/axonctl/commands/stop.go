package commands

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/axonlink/axonlink/internal/protocol/wire"
)

var (
	stopAll   bool
	stopType  string
	stopForce bool
)

// stopTypes maps the CLI names onto stop registers.
var stopTypes = map[string]wire.StopReg{
	"abrupt":       wire.StopTypeAbrupt,
	"ramp":         wire.StopTypeRamp,
	"estop-abrupt": wire.StopTypeEStopAbrupt,
	"estop-ramp":   wire.StopTypeEStopRamp,
	"clear-estop":  wire.StopTypeClrEStop,
	"clear-all":    wire.StopTypeClrAll,
}

var stopCmd = &cobra.Command{
	Use:   "stop [net:node]",
	Short: "Issue a node stop",
	Long: `Issue a stop to one node, or with --all to every node on network 0.
E-Stop variants latch: motion commands are refused until a clearing stop.

Examples:
  # Ramp one node to a stop
  axonctl stop 0:1 --type ramp

  # Latch an E-Stop on the whole ring (asks for confirmation)
  axonctl stop --all --type estop-abrupt

  # Release the latch
  axonctl stop 0:1 --type clear-estop`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVar(&stopAll, "all", false, "Broadcast to every node on the network")
	stopCmd.Flags().StringVar(&stopType, "type", "ramp", "Stop type: abrupt, ramp, estop-abrupt, estop-ramp, clear-estop, clear-all")
	stopCmd.Flags().BoolVarP(&stopForce, "yes", "y", false, "Skip the broadcast confirmation prompt")
}

func runStop(cmd *cobra.Command, args []string) error {
	reg, ok := stopTypes[stopType]
	if !ok {
		return fmt.Errorf("unknown stop type %q", stopType)
	}

	if !stopAll && len(args) != 1 {
		return fmt.Errorf("give a node address or --all")
	}

	if stopAll && !stopForce {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Broadcast %s stop to every node", stopType),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			return fmt.Errorf("aborted")
		}
	}

	d, err := openDriver(false)
	if err != nil {
		return err
	}
	defer d.Shutdown()

	if stopAll {
		if err := d.NodeStopNet(0, reg); err != nil {
			return err
		}
		fmt.Printf("%s stop broadcast on network 0\n", stopType)
		return nil
	}

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	if err := d.NodeStop(addr, reg); err != nil {
		return err
	}
	fmt.Printf("%s stop sent to %s\n", stopType, addr)
	return nil
}
