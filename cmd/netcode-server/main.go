// Command netcode-server runs a dedicated game server: it accepts
// connect-token Requests, runs the challenge/response handshake, and
// relays application payloads to the embedding game loop via events.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/oniproject/netcode"
	"github.com/oniproject/netcode/internal/metrics"
	"github.com/oniproject/netcode/internal/primitives"
	"github.com/oniproject/netcode/internal/token"
	"github.com/oniproject/netcode/pkg/service"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:   "netcode-server",
		Short: "Run a netcode transport server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(genKeyCmd())
	root.AddCommand(genTokenCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(installCmd())
	root.AddCommand(uninstallCmd())
	root.AddCommand(unitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use: "version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("netcode-server %s (%s)\n", version, commit)
			return nil
		},
	}
}

func genKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a random 32-byte private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key primitives.Key
			if err := randomKey(&key); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(key[:]))
			return nil
		},
	}
}

func genTokenCmd() *cobra.Command {
	var (
		keyHex      string
		clientID    uint64
		protocolID  uint64
		expireSec   uint32
		timeoutSec  uint32
		servers     []string
		outFile     string
	)
	cmd := &cobra.Command{
		Use:   "gen-token",
		Short: "Mint a connect token for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
			if err != nil || len(raw) != primitives.KeySize {
				return fmt.Errorf("invalid private key: must be %d hex-encoded bytes", primitives.KeySize)
			}
			var privateKey primitives.Key
			copy(privateKey[:], raw)

			serverData, err := netcode.EncodeServerList(servers)
			if err != nil {
				return err
			}

			pub, err := token.GeneratePublic(serverData, [token.UserDataLen]byte{}, expireSec, timeoutSec, clientID, protocolID, privateKey)
			if err != nil {
				return err
			}
			wire := pub.Marshal()

			if outFile == "" {
				fmt.Println(hex.EncodeToString(wire[:]))
				return nil
			}
			return os.WriteFile(outFile, wire[:], 0o600)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded 32-byte private key")
	cmd.Flags().Uint64Var(&clientID, "client-id", 0, "client id to embed")
	cmd.Flags().Uint64Var(&protocolID, "protocol-id", 0x4e455443, "protocol id")
	cmd.Flags().Uint32Var(&expireSec, "expire", 30, "token lifetime in seconds")
	cmd.Flags().Uint32Var(&timeoutSec, "timeout", 10, "per-connection inactivity timeout in seconds")
	cmd.Flags().StringSliceVar(&servers, "server", nil, "host:port this token may connect to (repeatable)")
	cmd.Flags().StringVar(&outFile, "out", "", "write the binary token envelope here instead of printing hex")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		configFile string
		listen     string
		keyHex     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server's accept/update loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := netcode.DefaultServerConfig()
			if configFile != "" {
				loaded, err := netcode.LoadServerConfig(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			if listen != "" {
				cfg.Listen = listen
			}

			var privateKey primitives.Key
			switch {
			case keyHex != "":
				raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
				if err != nil || len(raw) != primitives.KeySize {
					return fmt.Errorf("invalid -key: must be %d hex-encoded bytes", primitives.KeySize)
				}
				copy(privateKey[:], raw)
			case cfg.PrivateKeyFile != "":
				raw, err := os.ReadFile(cfg.PrivateKeyFile)
				if err != nil {
					return fmt.Errorf("read private key file: %w", err)
				}
				decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
				if err != nil || len(decoded) != primitives.KeySize {
					return fmt.Errorf("invalid private key file contents")
				}
				copy(privateKey[:], decoded)
			default:
				return fmt.Errorf("one of -key or private_key_file (config) is required")
			}

			return run(cfg, privateKey)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "UDP listen address, overrides config")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded private key, overrides config")
	return cmd
}

func run(cfg netcode.ServerConfig, privateKey primitives.Key) error {
	sock, err := netcode.ListenUDP(cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer sock.Close()

	srv, err := netcode.NewServer(sock, cfg.ProtocolID, privateKey, cfg.MaxClients, cfg.PublicAddrs)
	if err != nil {
		return fmt.Errorf("new server: %w", err)
	}

	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		sink, err := metrics.NewPrometheus(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		srv.Metrics = sink
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("metrics listening on %s", cfg.MetricsListen)
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	srv.OnEvent = func(ev netcode.ServerEvent) {
		switch e := ev.(type) {
		case netcode.EventClientConnected:
			log.Printf("client connected: slot=%d client_id=%d session=%s", e.Slot, e.ClientID, e.Session)
		case netcode.EventClientDisconnected:
			log.Printf("client disconnected: slot=%d reason=%s", e.Slot, e.Reason)
		case netcode.EventPacket:
			log.Printf("payload from slot=%d (%d bytes)", e.Slot, len(e.Data))
		}
	}

	log.Printf("netcode server listening on %s (protocol %d, max clients %d)", sock.LocalAddr(), cfg.ProtocolID, cfg.MaxClients)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			log.Println("shutting down")
			return nil
		case now := <-ticker.C:
			srv.Update(now)
		}
	}
}

func randomKey(k *primitives.Key) error {
	_, err := rand.Read(k[:])
	return err
}

func installCmd() *cobra.Command {
	var configFile, listen string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install netcode-server as a system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Install("netcode-server", "netcode transport service", os.Args[1:])
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "UDP listen address")
	return cmd
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the netcode-server system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Uninstall("netcode-server")
		},
	}
}

func unitCmd() *cobra.Command {
	var configFile, listen string
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Print the systemd unit file install would generate, without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(service.CreateServerServiceFile("netcode-server", configFile, listen))
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "UDP listen address")
	return cmd
}
