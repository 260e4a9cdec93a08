package main

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/codec"
	"github.com/oriys/pulsar/internal/dispatch"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/sample"
	"github.com/spf13/cobra"
)

func invokeCmd() *cobra.Command {
	var (
		peer      string
		timeout   time.Duration
		codecName string
	)

	cmd := &cobra.Command{
		Use:   "invoke <name>",
		Short: "Ask for a greeting, in-process or from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			logging.Default().SetEnabled(false)

			if cmd.Flags().Changed("codec") {
				cfg.Dispatch.Codec = codecName
			}
			wireCodec, err := codec.ByName(cfg.Dispatch.Codec)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.Dispatch.DefaultTimeout
			}

			reg := action.NewRegistry()
			if err := sample.Register(reg); err != nil {
				return err
			}
			reg.Seal()

			ctx := context.Background()
			opts := []dispatch.Option{dispatch.WithDefaultTimeout(timeout)}
			var callOpts []dispatch.CallOption
			if peer != "" {
				transport := cluster.Dial(cluster.TransportOptions{Timeout: cfg.Cluster.DialTimeout})
				defer transport.Close()
				proxy := cluster.NewProxy(reg, cluster.NewBalancedTransport(transport), wireCodec)
				opts = append(opts, dispatch.WithRemoteInvoker(cluster.NewRemoteInvoker(proxy, reg, cluster.NewStaticDirectory(peer, nil))))
				callOpts = append(callOpts, dispatch.WithRemote(peer))
			}
			client := dispatch.New(reg, opts...)

			start := time.Now()
			resp, err := dispatch.Call[*sample.SampleResponse](ctx, client, sample.ActionName,
				&sample.SampleRequest{Name: args[0]}, timeout, callOpts...)
			if err != nil {
				return fmt.Errorf("%s (%s)", err, action.KindOf(err))
			}

			fmt.Println(resp.Greeting)
			logging.Op().Debug("greeting received", "peer", peer, "duration", time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "Peer address (grpc://, http://, tcp://, vsock://); empty runs in-process")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Call timeout (default from config)")
	cmd.Flags().StringVar(&codecName, "codec", "", "Payload codec (proto, json)")

	return cmd
}
