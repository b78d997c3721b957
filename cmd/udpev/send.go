package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/udpev/client"
	"github.com/cyberinferno/udpev/status"
	"github.com/cyberinferno/udpev/udpaddr"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		to      string
		bindIP  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [payload...]",
		Short: "Send one datagram and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := parseEndpoint(to)
			if err != nil {
				return err
			}

			conn, err := client.NewConn(bindIP, 0)
			if err != nil {
				return err
			}
			defer conn.Close()

			if _, err := conn.Send(dst, []byte(strings.Join(args, " "))); err != nil {
				return err
			}

			buf := make([]byte, 65535)
			n, from, err := conn.Recv(buf, timeout)
			if errors.Is(err, status.ErrTimeout) {
				fmt.Fprintf(cmd.OutOrStdout(), "no reply within %s\n", timeout)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", from, buf[:n])
			return nil
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Destination ip:port")
	cmd.Flags().StringVar(&bindIP, "bind", "", "Local ip to send from")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to wait for a reply")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// parseEndpoint turns "ip:port" into an address without name resolution.
func parseEndpoint(s string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("destination %q: %w", s, status.ErrInvalidArgument)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("destination port %q: %w", portStr, status.ErrInvalidArgument)
	}

	return udpaddr.Assign(host, port)
}
