package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/camlink/bc-go/internal/commands"
)

var pingCmd = &cobra.Command{
	Use:   "ping <camera>",
	Short: "Log in, request the firmware version once, and log out.",
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
		fmt.Printf("%s: reachable (firmware %s, hardware %s)\n", args[0], v.FirmwareVersion, v.HardwareVersion)
		return nil
	},
}
