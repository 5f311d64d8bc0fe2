package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/elizastream/server/history"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
)

const tableContentMaxLen = 60

type adminClient struct {
	addr   string
	token  string
	client *http.Client
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.addr, "/")+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func addAdminFlags(cmd *cobra.Command) *adminClient {
	c := &adminClient{client: &http.Client{Timeout: 10 * time.Second}}
	cmd.Flags().StringVar(&c.addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&c.token, "token", "", "admin bearer token")
	return c
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the chat history of a running server",
		Args:  cobra.NoArgs,
	}
	client := addAdminFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var result rpc.ClearResult
		if err := client.do(cmd.Context(), http.MethodPost, "/api/clear", &result); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		return nil
	}
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the chat history of a running server",
		Args:  cobra.NoArgs,
	}
	client := addAdminFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var result rpc.HistorySnapshotResult
		if err := client.do(cmd.Context(), http.MethodGet, "/api/history", &result); err != nil {
			return err
		}
		renderHistory(cmd.OutOrStdout(), result)
		return nil
	}
	return cmd
}

func renderHistory(w io.Writer, result rpc.HistorySnapshotResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Time", "From", "Emotion", "Message"})
	table.SetAutoWrapText(false)

	for _, e := range result.ChatHistory {
		table.Append([]string{
			strconv.FormatInt(e.ID, 10),
			time.UnixMilli(e.Timestamp).Format(time.TimeOnly),
			sender(e),
			string(e.Mood),
			logger.Truncate(e.Content, tableContentMaxLen),
		})
	}
	table.Render()
	fmt.Fprintf(w, "%d events, %d viewers\n", len(result.ChatHistory), result.Viewers)
}

func sender(e history.Event) string {
	if e.Kind == history.KindResponder && e.RespondingTo != "" {
		return e.Username + " -> " + e.RespondingTo
	}
	return e.Username
}
