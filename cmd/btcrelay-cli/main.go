// BTC relay command-line client.
//
// Usage:
//
//	btcrelay-cli [--rpc=URL] <command> [args...]
//
// Commands:
//
//	info                  Show network and active tip
//	header <hash>         Show a cached header
//	successors <hash>...  Fetch the first cached block after the known hashes
//	status                Show sync scheduler state
//	peers                 List connected peers
//	bans                  List banned peers
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/spf13/cobra"

	"github.com/Klingon-tech/btcrelay/internal/rpcclient"
)

const defaultRPC = "http://127.0.0.1:28332"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		endpoint string
		timeout  time.Duration
	)
	client := func() *rpcclient.Client {
		return rpcclient.NewWithTimeout(endpoint, timeout)
	}

	root := &cobra.Command{
		Use:           "btcrelay-cli",
		Short:         "Query a BTC relay node over JSON-RPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&endpoint, "rpc", defaultRPC, "RPC endpoint URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "RPC request timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "info",
			Short: "Show network and active tip",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmdInfo(cmd.OutOrStdout(), client())
			},
		},
		&cobra.Command{
			Use:   "header <hash>",
			Short: "Show a cached header",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmdHeader(cmd.OutOrStdout(), client(), args[0])
			},
		},
		&cobra.Command{
			Use:   "successors <hash>...",
			Short: "Fetch the first cached block after the known hashes",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmdSuccessors(cmd.OutOrStdout(), client(), args)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show sync scheduler state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmdStatus(cmd.OutOrStdout(), client())
			},
		},
		&cobra.Command{
			Use:   "peers",
			Short: "List connected peers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmdPeers(cmd.OutOrStdout(), client())
			},
		},
		&cobra.Command{
			Use:   "bans",
			Short: "List banned peers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmdBans(cmd.OutOrStdout(), client())
			},
		},
	)
	return root
}

// ── info ────────────────────────────────────────────────────────────────

func cmdInfo(w io.Writer, client *rpcclient.Client) error {
	info, err := client.ChainInfo()
	if err != nil {
		return fmt.Errorf("chain_getInfo: %w", err)
	}

	fmt.Fprintf(w, "Network:  %s\n", info.Network)
	fmt.Fprintf(w, "Genesis:  %s\n", info.GenesisHash)
	fmt.Fprintf(w, "Tip:      %s\n", info.TipHash)
	fmt.Fprintf(w, "Height:   %d\n", info.TipHeight)
	fmt.Fprintf(w, "Work:     %s\n", info.TipWork)
	fmt.Fprintf(w, "Headers:  %d\n", info.Headers)
	fmt.Fprintf(w, "Blocks:   %d cached\n", info.CachedBlocks)
	return nil
}

// ── header ──────────────────────────────────────────────────────────────

func cmdHeader(w io.Writer, client *rpcclient.Client, arg string) error {
	hash, err := chainhash.NewHashFromStr(arg)
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", arg, err)
	}
	hdr, err := client.Header(*hash)
	if err != nil {
		return fmt.Errorf("chain_getHeader: %w", err)
	}

	fmt.Fprintf(w, "Hash:        %s\n", hdr.Hash)
	fmt.Fprintf(w, "Height:      %d\n", hdr.Height)
	fmt.Fprintf(w, "Version:     %d\n", hdr.Version)
	fmt.Fprintf(w, "Prev:        %s\n", hdr.PrevBlock)
	fmt.Fprintf(w, "Merkle root: %s\n", hdr.MerkleRoot)
	fmt.Fprintf(w, "Time:        %s\n", time.Unix(hdr.Timestamp, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Bits:        %s\n", hdr.Bits)
	fmt.Fprintf(w, "Nonce:       %d\n", hdr.Nonce)
	fmt.Fprintf(w, "Work:        %s\n", hdr.Work)
	fmt.Fprintf(w, "Body cached: %t\n", hdr.HasBlock)
	for _, c := range hdr.Children {
		fmt.Fprintf(w, "Child:       %s\n", c)
	}
	return nil
}

// ── successors ──────────────────────────────────────────────────────────

func cmdSuccessors(w io.Writer, client *rpcclient.Client, args []string) error {
	known := make([]chainhash.Hash, len(args))
	for i, arg := range args {
		h, err := chainhash.NewHashFromStr(arg)
		if err != nil {
			return fmt.Errorf("invalid hash %q: %w", arg, err)
		}
		known[i] = *h
	}

	blk, height, err := client.Successors(known)
	if err != nil {
		return fmt.Errorf("relay_getSuccessors: %w", err)
	}
	if blk == nil {
		fmt.Fprintln(w, "No successor cached yet.")
		return nil
	}

	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		return fmt.Errorf("serialize block: %w", err)
	}
	fmt.Fprintf(w, "Hash:   %s\n", blk.BlockHash())
	fmt.Fprintf(w, "Height: %d\n", height)
	fmt.Fprintf(w, "Txs:    %d\n", len(blk.Transactions))
	fmt.Fprintf(w, "Size:   %d bytes\n", buf.Len())
	fmt.Fprintf(w, "Raw:    %s\n", hex.EncodeToString(buf.Bytes()))
	return nil
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(w io.Writer, client *rpcclient.Client) error {
	st, err := client.SyncStatus()
	if err != nil {
		return fmt.Errorf("sync_getStatus: %w", err)
	}

	fmt.Fprintf(w, "Pending fetches: %d\n", st.PendingFetches)
	fmt.Fprintf(w, "Frontier:        %d\n", st.FrontierSize)
	fmt.Fprintf(w, "Peers:           %d\n", len(st.Peers))
	if len(st.Peers) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHEIGHT\tOUTSTANDING\tHEADERS\tTIP")
	for _, p := range st.Peers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%s\n", p.ID, p.Height, p.Outstanding, p.AwaitingHeaders, p.Tip)
	}
	return tw.Flush()
}

// ── peers ───────────────────────────────────────────────────────────────

func cmdPeers(w io.Writer, client *rpcclient.Client) error {
	peers, err := client.Peers()
	if err != nil {
		return fmt.Errorf("net_getPeerInfo: %w", err)
	}

	fmt.Fprintf(w, "Peers: %d\n", len(peers))
	for _, p := range peers {
		fmt.Fprintf(w, "  %s %s via %s, height %d, ready %t (connected: %s)\n",
			p.ID, p.Direction, p.Source, p.BestHeight, p.Ready,
			time.Unix(p.ConnectedAt, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

// ── bans ────────────────────────────────────────────────────────────────

func cmdBans(w io.Writer, client *rpcclient.Client) error {
	bans, err := client.Bans()
	if err != nil {
		return fmt.Errorf("net_getBanList: %w", err)
	}

	fmt.Fprintf(w, "Banned: %d\n", len(bans))
	for _, b := range bans {
		fmt.Fprintf(w, "  %s score %d until %s: %s\n",
			b.ID, b.Score, time.Unix(b.ExpiresAt, 0).UTC().Format(time.RFC3339), b.Reason)
	}
	return nil
}
