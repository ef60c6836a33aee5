package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/pushchain/push-signer-node/signerClient/api"
	"github.com/pushchain/push-signer-node/signerClient/constant"
	"github.com/pushchain/push-signer-node/signerClient/tss/runloop"
)

// Output formats
const (
	OutputFormatYAML = "yaml"
	OutputFormatJSON = "json"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "query",
		Aliases: []string{"q"},
		Short:   "Querying commands against a running node",
	}
	cmd.AddCommand(statusCmd(), roundsCmd(), ledgerEndpointsCmd())
	return cmd
}

func statusCmd() *cobra.Command {
	var outputFormat string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the run loop state of the local node",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status runloop.Status
			if err := callNode(cmd, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), status, outputFormat)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", OutputFormatYAML, "Output format (yaml|json)")
	return cmd
}

func roundsCmd() *cobra.Command {
	var (
		outputFormat string
		status       string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "List the node's round history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/rounds"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp api.RoundsResponse
			if err := callNode(cmd, http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), resp, outputFormat)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending|in_progress|success|failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rounds to list")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", OutputFormatJSON, "Output format (yaml|json)")
	return cmd
}

func ledgerEndpointsCmd() *cobra.Command {
	var outputFormat string
	cmd := &cobra.Command{
		Use:   "ledger-endpoints",
		Short: "Show the health of the node's ledger endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.LedgerEndpointsResponse
			if err := callNode(cmd, http.MethodGet, "/api/v1/ledger/endpoints", nil, &resp); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), resp, outputFormat)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", OutputFormatYAML, "Output format (yaml|json)")
	return cmd
}

func dkgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dkg",
		Short: "Queue a distributed key generation round on the local node",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.CommandResponse
			if err := callNode(cmd, http.MethodPost, "/api/v1/commands/dkg", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s command queued\n", resp.Kind)
			return nil
		},
	}
}

func signCmd() *cobra.Command {
	var req api.SignRequest
	cmd := &cobra.Command{
		Use:   "sign <message>",
		Short: "Queue a signing round on the local node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Message = args[0]
			var resp api.CommandResponse
			if err := callNode(cmd, http.MethodPost, "/api/v1/commands/sign", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s command queued\n", resp.Kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Encoding, "encoding", api.EncodingUTF8, "Message encoding (utf8|hex)")
	cmd.Flags().BoolVar(&req.IsTaproot, "taproot", false, "Produce a BIP-340 taproot signature")
	cmd.Flags().StringVar(&req.MerkleRoot, "merkle-root", "", "Taproot script tree merkle root in hex")
	return cmd
}

// callNode sends body as JSON to the local node's API and decodes the reply into out.
func callNode(cmd *cobra.Command, method, path string, body, out any) error {
	port, err := getQueryServerPort(cmd)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, fmt.Sprintf("http://%s:%d%s", constant.QueryHost, port, path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("server error: %s", errResp.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getQueryServerPort loads the config to get the query server port
func getQueryServerPort(cmd *cobra.Command) (int, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return 0, err
	}
	return cfg.QueryServerPort, nil
}

// printOutput prints the output in the specified format
func printOutput(w io.Writer, data any, format string) error {
	switch format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(data)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
