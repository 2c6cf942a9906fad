package main

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/brewguard/internal/grpcclient"
	"github.com/example/brewguard/internal/healthcheck"
)

type healthOutput struct {
	Addr     string `json:"addr"`
	Proxy    string `json:"proxy"`
	Upstream string `json:"upstream"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var (
		addrFlag string
		jsonFlag bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the proxy gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			addr := dialAddress(cfg.Server.GRPCAddr)
			if addrFlag != "" {
				addr = addrFlag
			}

			client, conn, err := grpcclient.DialHealth(cmd.Context(), addr, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			proxy, err := client.Check(cmd.Context(), "")
			if err != nil {
				return err
			}
			upstream, err := client.Check(cmd.Context(), healthcheck.UpstreamService)
			if err != nil {
				return err
			}

			out := healthOutput{Addr: addr, Proxy: proxy.String(), Upstream: upstream.String()}
			if jsonFlag {
				if err := writeJSON(cmd, out); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "proxy:    %s\nupstream: %s\n", out.Proxy, out.Upstream)
			}
			if proxy != healthpb.HealthCheckResponse_SERVING {
				return errors.New("proxy is not serving")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "gRPC health address (defaults to server.grpc_addr)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	return cmd
}

// dialAddress turns a listen address such as ":9090" into a dialable one.
func dialAddress(listen string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(listen))
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
