package main

import (
	"encoding/json"
	"fmt"
	"os"

	"ShadowSwap/internal/server"

	"github.com/urfave/cli/v2"
)

const (
	flagLedger = "ledger"
	flagOwner  = "owner"
	flagBook   = "book"
	flagLimit  = "limit"
	flagBefore = "before"
)

func main() {
	app := &cli.App{
		Name:                 "shadowctl",
		Usage:                "Operate a ShadowSwap ledger over gRPC",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagLedger,
				EnvVars: []string{"SHADOW_LEDGER_ADDR"},
				Value:   "localhost:9090",
				Usage:   "ledger gRPC address",
			},
		},
		Commands: []*cli.Command{
			bookCmd,
			fundsCmd,
			orderCmd,
			authCmd,
			queryCmd,
			adminCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err) // nolint:errcheck
		os.Exit(1)
	}
}

// withClient dials the ledger named by the global flag for the duration of fn.
func withClient(cctx *cli.Context, fn func(*server.LedgerClient) error) error {
	client, err := server.Dial(cctx.String(flagLedger))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
