package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supersockets/supersockets-go/endpoint"
)

var dialReply bool

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Connect to a listener and send stdin lines as values",
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := endpoint.Open(cmd.Context(), endpoint.RoleInitiator, cfg.Address, cfg.Port, endpointOptions()...)
		if err != nil {
			return err
		}
		defer ep.Close()
		logger.Info("connected",
			zap.String("address", cfg.Address),
			zap.Int("port", cfg.Port),
			zap.Bool("sealed", ep.Sealed()),
		)

		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if err := ep.Send(sc.Text()); err != nil {
				return err
			}
			if dialReply {
				v, err := ep.Receive()
				if err != nil {
					return err
				}
				fmt.Printf("%v\n", v)
			}
		}
		return sc.Err()
	},
}

func init() {
	dialCmd.Flags().BoolVar(&dialReply, "reply", false, "wait for a reply after each sent value")
	rootCmd.AddCommand(dialCmd)
}
