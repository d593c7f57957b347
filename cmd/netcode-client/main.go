// Command netcode-client connects to a netcode-server using a connect
// token and relays stdin lines to the server as reliable payloads, for
// manual testing and as a template for embedding the client in a game.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oniproject/netcode"
	"github.com/oniproject/netcode/internal/token"
	"github.com/oniproject/netcode/pkg/service"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:   "netcode-client",
		Short: "Connect to a netcode server using a connect token",
	}
	root.AddCommand(connectCmd())
	root.AddCommand(&cobra.Command{
		Use: "version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("netcode-client %s (%s)\n", version, commit)
			return nil
		},
	})
	root.AddCommand(installCmd())
	root.AddCommand(uninstallCmd())
	root.AddCommand(unitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connectCmd() *cobra.Command {
	var (
		tokenFile  string
		tokenHex   string
		protocolID uint64
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect using a token file or hex-encoded token",
		RunE: func(cmd *cobra.Command, args []string) error {
			wire, err := readToken(tokenFile, tokenHex)
			if err != nil {
				return err
			}
			pub, err := token.ReadPublic(wire)
			if err != nil {
				return fmt.Errorf("parse token: %w", err)
			}
			if protocolID != 0 && pub.Protocol != protocolID {
				return fmt.Errorf("token protocol %d does not match expected %d", pub.Protocol, protocolID)
			}

			servers := netcode.ParseServerList(pub.ServerData)
			if len(servers) == 0 {
				return fmt.Errorf("token carries no server addresses")
			}
			addrs := make([]net.Addr, 0, len(servers))
			for _, s := range servers {
				ua, err := net.ResolveUDPAddr("udp", s)
				if err != nil {
					return fmt.Errorf("resolve server %q: %w", s, err)
				}
				addrs = append(addrs, ua)
			}

			sock, err := netcode.ListenUDP(":0")
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer sock.Close()

			client := netcode.NewClient(sock, pub.Protocol, pub, addrs)
			client.OnEvent = func(ev netcode.ClientEvent) {
				switch e := ev.(type) {
				case netcode.EventConnecting:
					log.Printf("connecting: stage=%d", e.Stage)
				case netcode.EventConnected:
					log.Println("connected")
				case netcode.EventDisconnected:
					log.Printf("disconnected: %s", e.Reason)
				}
			}
			client.OnPayload = func(p []byte) {
				fmt.Printf("recv: %s\n", string(p))
			}

			return runClientLoop(client)
		},
	}
	cmd.Flags().StringVar(&tokenFile, "token", "", "path to a binary connect token file")
	cmd.Flags().StringVar(&tokenHex, "token-hex", "", "hex-encoded connect token")
	cmd.Flags().Uint64Var(&protocolID, "protocol-id", 0, "expected protocol id (0 = accept whatever the token carries)")
	return cmd
}

func readToken(path, hexStr string) ([token.PublicLen]byte, error) {
	var wire [token.PublicLen]byte
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return wire, err
		}
		if len(data) != token.PublicLen {
			return wire, fmt.Errorf("token file must be exactly %d bytes, got %d", token.PublicLen, len(data))
		}
		copy(wire[:], data)
	case hexStr != "":
		data, err := hex.DecodeString(strings.TrimSpace(hexStr))
		if err != nil || len(data) != token.PublicLen {
			return wire, fmt.Errorf("invalid -token-hex")
		}
		copy(wire[:], data)
	default:
		return wire, fmt.Errorf("one of -token or -token-hex is required")
	}
	return wire, nil
}

func installCmd() *cobra.Command {
	var tokenFile, server string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install netcode-client as a system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Install("netcode-client", "netcode client service", os.Args[1:])
		},
	}
	cmd.Flags().StringVar(&tokenFile, "token", "", "path to a binary connect token file")
	cmd.Flags().StringVar(&server, "server", "", "server host:port, for the generated unit file only")
	return cmd
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the netcode-client system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Uninstall("netcode-client")
		},
	}
}

func unitCmd() *cobra.Command {
	var tokenFile, server string
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Print the systemd unit file install would generate, without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(service.CreateClientServiceFile("netcode-client", tokenFile, server))
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenFile, "token", "", "path to a binary connect token file")
	cmd.Flags().StringVar(&server, "server", "", "server host:port")
	return cmd
}

func runClientLoop(client *netcode.Client) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				client.Disconnect()
				return nil
			}
			if client.State() == netcode.ClientConnected {
				_ = client.SendPayload([]byte(line))
			}
		case now := <-ticker.C:
			client.Update(now)
			if client.State() == netcode.ClientDisconnected {
				return nil
			}
		}
	}
}
