package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	flag "github.com/spf13/pflag"

	"rewardledger/cmd/internal/secret"
	"rewardledger/cmd/internal/simulation"
	"rewardledger/services/rewardd"
)

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (c *cli) simulate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("simulate needs a subcommand: attack or distribute")
	}
	fs := newFlagSet("simulate "+args[0], c.stdout)
	asJSON := fs.Bool("json", false, "print results as JSON")
	switch args[0] {
	case "attack":
		scenario := fs.String("scenario", "all", "scenario to run: all, "+strings.Join(simulation.ScenarioNames(), ", "))
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		results, err := c.runAttacks(ctx, *scenario)
		if err != nil {
			return err
		}
		return c.report(results, *asJSON)
	case "distribute":
		count := fs.Int("count", 10, "number of random recipients")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		c.log.Info("simulating distribution", slog.Int("recipients", *count))
		res, err := simulation.Distribute(ctx, *count, c.opts...)
		if err != nil {
			return err
		}
		return c.report([]simulation.Result{res}, *asJSON)
	default:
		return fmt.Errorf("unknown simulate subcommand %q", args[0])
	}
}

func (c *cli) runAttacks(ctx context.Context, name string) ([]simulation.Result, error) {
	names := []string{name}
	if name == "all" {
		names = simulation.ScenarioNames()
	}
	results := make([]simulation.Result, 0, len(names))
	for _, n := range names {
		scenario, ok := simulation.Scenarios[n]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", n)
		}
		c.log.Info("running scenario", slog.String("scenario", n))
		res, err := scenario(ctx, c.opts...)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", n, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *cli) report(results []simulation.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tENGINE\tOUTCOME\tCOST\tDETAIL")
	for _, res := range results {
		for _, side := range []struct {
			engine string
			out    simulation.Outcome
		}{{"push", res.Push}, {"pull", res.Pull}} {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", res.Scenario, side.engine, side.out.Code, side.out.Cost, side.out.Detail)
		}
		for _, note := range res.Notes {
			fmt.Fprintf(tw, "%s\t\t\t\t%s\n", res.Scenario, note)
		}
	}
	return tw.Flush()
}

func (c *cli) bench(ctx context.Context, args []string) error {
	fs := newFlagSet("bench", c.stdout)
	sizes := fs.IntSlice("sizes", []int{10, 50, 100}, "recipient counts to measure")
	parquetPath := fs.String("parquet", "", "also write the rows to this parquet file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rows, err := simulation.Bench(ctx, *sizes, c.opts...)
	if err != nil {
		return err
	}
	if *parquetPath != "" {
		if err := writeBenchParquet(*parquetPath, rows); err != nil {
			return err
		}
		c.log.Info("wrote bench report", slog.String("path", *parquetPath), slog.Int("rows", len(rows)))
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func (c *cli) keygen(args []string) error {
	fs := newFlagSet("keygen", c.stdout)
	out := fs.String("out", "", "write the private key to this file (hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey)
	if *out != "" {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("%s already exists", *out)
		}
		if err := ethcrypto.SaveECDSA(*out, key); err != nil {
			return err
		}
		c.log.Info("saved key", slog.String("path", *out))
	}
	fmt.Fprintln(c.stdout, address.Hex())
	return nil
}

func (c *cli) token(args []string) error {
	fs := newFlagSet("token", c.stdout)
	subject := fs.String("subject", "", "caller address the token authenticates")
	hmacSecret := fs.String("secret", "", "rewardd HMAC secret (default $REWARDD_HMAC_SECRET, else prompt)")
	issuer := fs.String("issuer", "", "issuer claim expected by rewardd")
	audience := fs.String("audience", "", "audience claim expected by rewardd")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*subject) {
		return fmt.Errorf("--subject %q is not an address", *subject)
	}
	if *hmacSecret == "" {
		var tty *os.File
		if f, ok := c.stdin.(*os.File); ok {
			tty = f
		}
		value, err := secret.NewSource("REWARDD_HMAC_SECRET", "rewardd HMAC secret", tty, c.stderr).Get()
		if err != nil {
			return err
		}
		*hmacSecret = value
	}
	token, err := rewardd.IssueToken(rewardd.AuthConfig{HMACSecret: *hmacSecret, Issuer: *issuer, Audience: *audience},
		common.HexToAddress(*subject), *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, token)
	return nil
}
