package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"munind.sh/internal/config"
	"munind.sh/internal/discovery"
	"munind.sh/internal/registry"
)

type probeOptions struct {
	timeout  time.Duration
	discover time.Duration
	service  string
	graphs   []string
}

func newProbeCmd() *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe [address]",
		Short: "Poll a munin node the way a collector does",
		Long: `Connect to a munin node, run cap, list, config and fetch for every
graph it offers and print the replies. With --discover the node addresses are
found over mDNS instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if opts.discover > 0 {
				nodes, err := discovery.Browse(cmd.Context(), opts.service, opts.discover)
				if err != nil {
					return err
				}
				if len(nodes) == 0 {
					fmt.Fprintln(out, yellow("No munin nodes found"))
					return nil
				}
				var errs []error
				for _, node := range nodes {
					fmt.Fprintf(out, "%s %s (%s)\n", bold("Node"), cyan(node.Hostname), node.HostPort())
					if err := probe(cmd.Context(), out, node.HostPort(), opts); err != nil {
						fmt.Fprintf(out, "%s %v\n", red("FAILED"), err)
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			}

			addr := config.DefaultListen
			if len(args) == 1 {
				addr = args[0]
			}
			return probe(cmd.Context(), out, addr, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-command read timeout")
	cmd.Flags().DurationVar(&opts.discover, "discover", 0, "browse mDNS for this long and probe every node found")
	cmd.Flags().StringVar(&opts.service, "service", discovery.DefaultServiceType, "mDNS service type to browse")
	cmd.Flags().StringSliceVar(&opts.graphs, "graph", nil, "only probe these graphs")

	return cmd
}

// probe runs one collector-style session against addr
func probe(ctx context.Context, out io.Writer, addr string, opts *probeOptions) error {
	client, err := dialNode(ctx, addr, opts.timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintln(out, green(client.banner))

	caps, err := client.Command("cap dirtyconfig", false)
	if err != nil {
		return err
	}
	printReply(out, "cap", caps)

	listed, err := client.Command("list", false)
	if err != nil {
		return err
	}
	printReply(out, "list", listed)

	graphs := opts.graphs
	if len(graphs) == 0 && len(listed) > 0 {
		graphs = strings.Fields(listed[0])
	}

	for _, graph := range graphs {
		for _, command := range []string{"config " + graph, "fetch " + graph} {
			reply, err := client.Command(command, true)
			if err != nil {
				return err
			}
			printReply(out, command, reply)
		}
	}

	return client.Quit()
}

func printReply(out io.Writer, command string, lines []string) {
	fmt.Fprintf(out, "%s %s\n", bold(">"), cyan(command))
	for _, line := range lines {
		if strings.HasPrefix(line, "# ") {
			fmt.Fprintln(out, yellow(line))
			continue
		}
		fmt.Fprintln(out, line)
	}
}

// nodeClient is a line based munin client
type nodeClient struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	banner  string
}

func dialNode(ctx context.Context, addr string, timeout time.Duration) (*nodeClient, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &nodeClient{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}
	banner, err := c.readLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read banner: %w", err)
	}
	if !strings.HasPrefix(banner, "# munin node at ") {
		conn.Close()
		return nil, fmt.Errorf("unexpected banner %q", banner)
	}
	c.banner = banner
	return c, nil
}

// Command sends command and reads one line, or every line up to the "."
// sentinel when multiline is set.
func (c *nodeClient) Command(command string, multiline bool) ([]string, error) {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := io.WriteString(c.conn, command+"\n"); err != nil {
		return nil, fmt.Errorf("failed to send %q: %w", command, err)
	}

	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return lines, err
		}
		if multiline && line == registry.Sentinel {
			return lines, nil
		}
		lines = append(lines, line)
		if !multiline {
			return lines, nil
		}
	}
}

func (c *nodeClient) readLine() (string, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Quit ends the session. The node closes the connection without replying.
func (c *nodeClient) Quit() error {
	if _, err := io.WriteString(c.conn, "quit\n"); err != nil {
		return fmt.Errorf("failed to send quit: %w", err)
	}
	return nil
}

func (c *nodeClient) Close() error {
	return c.conn.Close()
}
