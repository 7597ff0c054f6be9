package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/axonlink/axonlink/pkg/driver"
)

var paramNonVolatile bool

var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Read and write node parameters",
}

var paramGetCmd = &cobra.Command{
	Use:   "get <net:node> <bank> <index>",
	Short: "Read one parameter as hex bytes",
	Long: `Read a parameter from a node. The value is printed as hex; the driver
does not interpret it.

Examples:
  # Device ID of node 0 on network 0
  axonctl param get 0:0 0 0

  # Non-volatile shadow of a user parameter
  axonctl param get 0:1 0 91 --nv`,
	Args: cobra.ExactArgs(3),
	RunE: runParamGet,
}

var paramSetCmd = &cobra.Command{
	Use:   "set <net:node> <bank> <index> <hex-value>",
	Short: "Write one parameter from hex bytes",
	Long: `Write a parameter on a node. The value is raw hex bytes.

Examples:
  axonctl param set 0:0 0 91 11223344
  axonctl param set 0:0 0 36 "01 00 00 00"`,
	Args: cobra.ExactArgs(4),
	RunE: runParamSet,
}

func init() {
	paramCmd.PersistentFlags().BoolVar(&paramNonVolatile, "nv", false,
		"Access the non-volatile shadow instead of the live value")
	paramCmd.AddCommand(paramGetCmd)
	paramCmd.AddCommand(paramSetCmd)
}

func parseParamRef(bankArg, indexArg string) (driver.ParamRef, error) {
	bank, err := strconv.Atoi(bankArg)
	if err != nil || bank < 0 || bank > 3 {
		return driver.ParamRef{}, fmt.Errorf("bank %q not in 0..3", bankArg)
	}
	index, err := strconv.ParseUint(indexArg, 0, 8)
	if err != nil {
		return driver.ParamRef{}, fmt.Errorf("index %q not in 0..255", indexArg)
	}
	return driver.ParamRef{
		Bank:        bank,
		Index:       uint8(index),
		NonVolatile: paramNonVolatile,
	}, nil
}

func runParamGet(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	ref, err := parseParamRef(args[1], args[2])
	if err != nil {
		return err
	}

	d, err := openDriver(false)
	if err != nil {
		return err
	}
	defer d.Shutdown()

	value, err := d.GetParam(addr, ref)
	if err != nil {
		return err
	}
	fmt.Printf("% x\n", value)
	return nil
}

func runParamSet(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	ref, err := parseParamRef(args[1], args[2])
	if err != nil {
		return err
	}
	value, err := parseHexBytes(args[3])
	if err != nil {
		return err
	}

	d, err := openDriver(false)
	if err != nil {
		return err
	}
	defer d.Shutdown()

	if err := d.SetParam(addr, ref, value); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s bank %d index %d\n",
		len(value), addr, ref.Bank, ref.Index)
	return nil
}
