package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/classifier"
	"firestige.xyz/trapd/internal/core/decoder"
	"firestige.xyz/trapd/internal/sink/console"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode one SNMP datagram given as hex",
	Long: `Decode one SNMP trap datagram and print it the way the console sink does.
Whitespace and colons in the hex string are ignored. No authorization is applied.

Examples:
  trapd decode --hex 303c02010104067075626c6963a72f...
  trapd decode -v --json --hex "30 3c 02 01 01 ..."`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDecode(cmd.OutOrStdout(), cmd.ErrOrStderr(), decodeOpts); err != nil {
			exitWithError("decode failed", err)
		}
	},
}

type decodeFlags struct {
	hex            string
	source         string
	verbose        bool
	json           bool
	resolveTrapOID bool
}

var decodeOpts decodeFlags

func init() {
	f := decodeCmd.Flags()
	f.StringVar(&decodeOpts.hex, "hex", "", "datagram bytes as hex (required)")
	f.StringVar(&decodeOpts.source, "source", "0.0.0.0:0", "source address to report")
	f.BoolVarP(&decodeOpts.verbose, "verbose", "v", false, "print full trap details")
	f.BoolVar(&decodeOpts.json, "json", false, "print one JSON object")
	f.BoolVar(&decodeOpts.resolveTrapOID, "resolve-trap-oid", false, "fall back to the snmpTrapOID.0 varbind when classifying")
	_ = decodeCmd.MarkFlagRequired("hex")
}

func runDecode(out, errOut io.Writer, o decodeFlags) error {
	payload, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(o.hex))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	src, err := netip.ParseAddrPort(o.source)
	if err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}

	format := "text"
	if o.json {
		format = "json"
	}
	s := console.New(out, errOut, format, o.verbose, nil)

	ctx := context.Background()
	trap, err := decoder.Decode(payload)
	if err != nil {
		_ = s.EmitError(ctx, src, err)
		return err
	}
	trap.Source = src
	trap.ReceivedAt = time.Now()

	name := classifier.Classifier{ResolveTrapOID: o.resolveTrapOID}.Classify(trap)
	return s.Emit(ctx, core.Event{Trap: trap, Name: name})
}
