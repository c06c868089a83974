package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/camlink/bc-go/internal/commands"
)

var infoCmd = &cobra.Command{
	Use:   "info <camera>",
	Short: "Print version, battery, and resolution for a camera.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := openNamed(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := commands.GetVersion(ctx, s)
		if err != nil {
			return err
		}
		fmt.Printf("firmware:   %s\n", v.FirmwareVersion)
		fmt.Printf("hardware:   %s\n", v.HardwareVersion)

		if batt, err := commands.GetBattery(ctx, s); err == nil {
			fmt.Printf("battery:    %d%% (charging=%v)\n", batt.Percentage, batt.Charging)
		}
		if res, err := commands.GetResolution(ctx, s); err == nil {
			fmt.Printf("resolution: %s\n", res)
		}
		return nil
	},
}
