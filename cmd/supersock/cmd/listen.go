package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supersockets/supersockets-go/endpoint"
	"github.com/supersockets/supersockets-go/observability/prom"
	"github.com/supersockets/supersockets-go/sserrors"
)

var (
	listenEcho        bool
	listenMetricsAddr string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept one peer and print received values",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := endpointOptions()

		if listenMetricsAddr != "" {
			reg := prom.NewRegistry()
			opts = append(opts, endpoint.WithObserver(prom.NewConnObserver(reg)))
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", prom.Handler(reg))
				if err := http.ListenAndServe(listenMetricsAddr, mux); err != nil {
					logger.Warn("metrics server stopped", zap.Error(err))
				}
			}()
		}

		logger.Info("waiting for peer",
			zap.String("address", cfg.Address),
			zap.Int("port", cfg.Port),
			zap.Bool("negotiate", cfg.Negotiate),
		)
		ep, err := endpoint.Open(cmd.Context(), endpoint.RoleListener, cfg.Address, cfg.Port, opts...)
		if err != nil {
			return err
		}
		defer ep.Close()
		logger.Info("peer connected", zap.Bool("sealed", ep.Sealed()))

		for {
			v, err := ep.Receive()
			if err != nil {
				var serr *sserrors.Error
				if errors.As(err, &serr) && serr.Code == sserrors.CodeTimeout {
					continue
				}
				return err
			}
			fmt.Printf("%v\n", v)
			if listenEcho {
				if err := ep.Send(v); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	listenCmd.Flags().BoolVar(&listenEcho, "echo", false, "echo every received value back to the peer")
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(listenCmd)
}

func endpointOptions() []endpoint.Option {
	opts := []endpoint.Option{
		endpoint.WithTimeout(cfg.Timeout),
		endpoint.WithLogger(logger),
	}
	if cfg.Negotiate {
		opts = append(opts, endpoint.WithNegotiation())
	}
	if cfg.Key != "" {
		opts = append(opts, endpoint.WithPresharedKey(cfg.Key))
	}
	return opts
}
