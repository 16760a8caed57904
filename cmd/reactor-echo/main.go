// Command reactor-echo is a minimal length-prefixed echo server built
// on the reactor package, serving as both a smoke test and a worked
// example of wiring EventLoop + TcpServer + the lenc codec together.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netreact/reactor"
	"github.com/netreact/reactor/lenc"
	"github.com/netreact/reactor/server"
)

// version is stamped at build time via -ldflags, the same convention
// nasa-jpl-golaborate's multiserver uses for its own Version var.
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "reactor-echo",
		Short: "length-prefixed echo server built on the reactor event loop",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "reactor-echo.yml", "path to YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := reactor.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
				reactor.Log.SetLevel(level)
			}

			addr, err := net.ResolveTCPAddr("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}

			loop, err := reactor.NewEventLoop()
			if err != nil {
				return err
			}
			defer loop.Close()

			srv, err := server.NewTcpServer(loop, "echo", addr)
			if err != nil {
				return err
			}
			defer srv.Close()

			var codec *lenc.Codec
			codec = lenc.NewCodec(func(conn *reactor.TcpConnection, message string, receiveTime time.Time) {
				reactor.Log.WithFields(logrus.Fields{
					"conn": conn.Name(),
					"from": conn.PeerAddress(),
				}).Debug("echoing message")
				codec.Send(conn, message)
			})
			srv.SetMessageCallback(codec.OnMessage)
			srv.SetConnectionCallback(func(conn *reactor.TcpConnection) {
				if conn.Connected() {
					if cfg.TCPNoDelay {
						if err := conn.SetTCPNoDelay(true); err != nil {
							reactor.Log.WithError(err).Warn("set TCP_NODELAY failed")
						}
					}
					conn.SetHighWaterMarkCallback(func(c *reactor.TcpConnection, queued int) {
						reactor.Log.WithField("conn", c.Name()).Warnf("output buffer past high-water mark: %d bytes queued", queued)
					}, cfg.HighWaterMark)
				}
				reactor.DefaultConnectionCallback(conn)
			})

			reactor.Log.WithField("addr", cfg.ListenAddr).Info("reactor-echo listening")
			srv.Start()
			loop.Loop()
			return nil
		},
	}
}
