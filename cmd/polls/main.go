// Polls: command line client for the on-chain polling program.
//
// It creates polls, casts votes and lists results against any JSON-RPC
// ledger node, and can run a local single-node ledger with the program
// deployed for development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/config"
	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/localnet"
	"github.com/AlysCarillo/solana-polling-station/pkg/pda"
	"github.com/AlysCarillo/solana-polling-station/pkg/pollclient"
	"github.com/AlysCarillo/solana-polling-station/pkg/query"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Global flags. Unset flags fall back to POLLS_* environment settings.
var (
	envFile     = flag.String("env-file", ".env", "Environment file to load before reading settings")
	programID   = flag.String("program", "", "Poll program id")
	rpcEndpoint = flag.String("rpc", "", "JSON-RPC endpoint")
	commitment  = flag.String("commitment", "", "Commitment level: processed, confirmed, finalized")
	keypairPath = flag.String("keypair", "", "Path to the payer keypair file")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

const usage = `usage: polls [flags] <command> [args]

commands:
  list                         list every poll, newest first
  mine [-wallet pubkey]        list polls created by a wallet (default: keypair)
  show <poll-id>               show one poll with its tally
  create -q question [-owner name] [-wait] option...
                               create a poll
  vote [-wait] <poll-id|address> <option>
                               vote for an option
  airdrop [-sol n]             request an airdrop to the keypair
  balance [pubkey]             print a balance in SOL
  derive <poll-id>             print the address of a poll id
  block <slot>                 replay and verify the hash chain of a block
  localnet [-data-dir dir] [-restore file] [-save file]
                               run a local ledger with the program deployed
  version                      print the version

flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "version" {
		fmt.Printf("polls %s (%s)\n", Version, GitCommit)
		return
	}

	cfg, err := config.Load(config.LoadOptions{EnvFile: *envFile})
	if err != nil {
		fatal(err)
	}
	if err := applyFlagOverrides(cfg); err != nil {
		fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == "localnet" {
		err = runLocalnet(ctx, cfg, logger, args)
	} else {
		err = runClientCommand(ctx, cfg, logger, cmd, args)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "polls: %v\n", err)
	os.Exit(1)
}

// applyFlagOverrides lets explicitly set global flags win over the
// environment.
func applyFlagOverrides(cfg *config.Config) error {
	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagSet[f.Name] = true
	})

	if flagSet["program"] {
		pk, err := types.PubkeyFromBase58(*programID)
		if err != nil {
			return fmt.Errorf("-program: %w", err)
		}
		cfg.ProgramID = pk
	}
	if flagSet["rpc"] {
		cfg.RPCEndpoint = *rpcEndpoint
	}
	if flagSet["commitment"] {
		c, err := types.ParseCommitment(*commitment)
		if err != nil {
			return fmt.Errorf("-commitment: %w", err)
		}
		cfg.Commitment = c
	}
	if flagSet["keypair"] {
		cfg.KeypairPath = *keypairPath
	}
	if flagSet["log-level"] {
		if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
			return fmt.Errorf("-log-level: %w", err)
		}
	}
	return nil
}

func runClientCommand(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ledger := rpc.NewClient(cfg.RPCEndpoint, rpc.ClientOptions{
		Timeout:    cfg.RPCTimeout,
		Commitment: cfg.Commitment,
		Encoding:   cfg.AccountEncoding,
		Logger:     logger,
	})
	client := pollclient.New(cfg.ProgramID, ledger, pollclient.Options{
		Commitment:   cfg.Commitment,
		PollInterval: cfg.ConfirmInterval,
		Logger:       logger,
	})
	if cmd != "derive" {
		if err := ledger.GetHealth(ctx); err != nil {
			return fmt.Errorf("node %s: %w", cfg.RPCEndpoint, err)
		}
	}
	signer := func() (*crypto.Keypair, error) {
		return crypto.LoadKeypairFile(cfg.KeypairPath)
	}

	switch cmd {
	case "list":
		polls, err := client.GetAllPolls(ctx)
		if err != nil {
			return err
		}
		printPolls(polls)

	case "mine":
		fs := flag.NewFlagSet("mine", flag.ExitOnError)
		wallet := fs.String("wallet", "", "Wallet public key (default: keypair)")
		fs.Parse(args)
		if *wallet == "" {
			kp, err := signer()
			if err != nil {
				return err
			}
			*wallet = kp.PublicKey().String()
		}
		polls, err := client.GetPollsByOwner(ctx, *wallet)
		if err != nil {
			return err
		}
		printPolls(polls)

	case "show":
		if len(args) != 1 {
			return errors.New("show: expected a poll id")
		}
		h, ok, err := client.FindPoll(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("show: no poll with id %q", args[0])
		}
		printPoll(h)

	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		question := fs.String("q", "", "Question")
		owner := fs.String("owner", "", "Owner name (default: keypair public key)")
		wait := fs.Bool("wait", false, "Wait for confirmation")
		fs.Parse(args)

		kp, err := signer()
		if err != nil {
			return err
		}
		if *owner == "" {
			*owner = kp.PublicKey().String()
		}
		sig, id, err := client.CreatePoll(ctx, kp, *question, fs.Args(), *owner)
		if err != nil {
			return err
		}
		addr, _, err := pda.DerivePollAddress(cfg.ProgramID, id)
		if err != nil {
			return err
		}
		fmt.Printf("poll:      %s\naddress:   %s\nsignature: %s\n", id, addr, sig)
		if *wait {
			return client.Confirm(ctx, sig)
		}

	case "vote":
		fs := flag.NewFlagSet("vote", flag.ExitOnError)
		wait := fs.Bool("wait", false, "Wait for confirmation")
		fs.Parse(args)
		if fs.NArg() != 2 {
			return errors.New("vote: expected a poll id or address and an option")
		}
		addr, err := pollAddress(cfg.ProgramID, fs.Arg(0))
		if err != nil {
			return err
		}
		kp, err := signer()
		if err != nil {
			return err
		}
		sig, err := client.CastVote(ctx, kp, addr, fs.Arg(1))
		if err != nil {
			return err
		}
		fmt.Printf("signature: %s\n", sig)
		if *wait {
			return client.Confirm(ctx, sig)
		}

	case "airdrop":
		fs := flag.NewFlagSet("airdrop", flag.ExitOnError)
		sol := fs.Float64("sol", 1, "Amount in SOL")
		fs.Parse(args)
		kp, err := signer()
		if err != nil {
			return err
		}
		sig, err := client.Airdrop(ctx, kp.PublicKey(), types.LamportsFromSOL(*sol))
		if err != nil {
			return err
		}
		fmt.Printf("signature: %s\n", sig)

	case "balance":
		var addr types.Pubkey
		if len(args) > 0 {
			pk, err := types.PubkeyFromBase58(args[0])
			if err != nil {
				return fmt.Errorf("balance: %w", err)
			}
			addr = pk
		} else {
			kp, err := signer()
			if err != nil {
				return err
			}
			addr = kp.PublicKey()
		}
		lamports, err := client.Balance(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Printf("%.9f SOL\n", lamports.SOL())

	case "derive":
		if len(args) != 1 {
			return errors.New("derive: expected a poll id")
		}
		addr, bump, err := pda.DerivePollAddress(cfg.ProgramID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("address: %s\nbump:    %d\n", addr, bump)

	case "block":
		if len(args) != 1 {
			return errors.New("block: expected a slot")
		}
		slot, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("block: %w", err)
		}
		r, err := client.VerifyBlock(ctx, slot)
		if err != nil {
			return err
		}
		fmt.Printf("slot:    %d\nstart:   %s\nhead:    %s\nentries: %d\nticks:   %d\n",
			r.Slot, r.Start, r.Head, r.Entries, r.Ticks)
		for _, sig := range r.Transactions {
			fmt.Printf("tx:      %s\n", sig)
		}

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// pollAddress accepts either a poll account address or a poll id.
func pollAddress(programID types.Pubkey, arg string) (types.Pubkey, error) {
	if pk, err := types.PubkeyFromBase58(arg); err == nil {
		return pk, nil
	}
	addr, _, err := pda.DerivePollAddress(programID, arg)
	return addr, err
}

func printPolls(polls []query.AccountHandle) {
	if len(polls) == 0 {
		fmt.Println("no polls")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tVOTES\tQUESTION\tADDRESS")
	for _, h := range polls {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			h.Poll.ID, created(h.Poll.Timestamp), h.Poll.TotalVotes(), h.Poll.Question, h.Address)
	}
	w.Flush()
}

func printPoll(h query.AccountHandle) {
	p := h.Poll
	fmt.Printf("%s\n\n", p.Question)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, opt := range p.Options {
		fmt.Fprintf(w, "  %s\t%d\n", opt, p.Votes[i])
	}
	w.Flush()
	fmt.Printf("\nid:      %s\nowner:   %s\nwallet:  %s\ncreated: %s\naddress: %s\n",
		p.ID, p.Owner, p.WalletPubkey, created(p.Timestamp), h.Address)
}

func created(ts string) string {
	var secs int64
	if _, err := fmt.Sscan(ts, &secs); err != nil || secs <= 0 {
		return ts
	}
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}

func runLocalnet(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("localnet", flag.ExitOnError)
	dataDir := fs.String("data-dir", cfg.Localnet.DataDir, "Directory for the account store (empty: in memory)")
	addr := fs.String("addr", cfg.Localnet.Address, "Listen address")
	restore := fs.String("restore", "", "Snapshot archive to restore before serving")
	save := fs.String("save", "", "Write a snapshot archive here on shutdown")
	fs.Parse(args)

	var db accounts.AccountsDB
	if *dataDir == "" {
		db = accounts.NewMemoryDB()
		logger.Info("using in-memory account store")
	} else {
		dbPath := filepath.Join(*dataDir, "accounts")
		if err := os.MkdirAll(dbPath, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		bdb, err := accounts.OpenBadgerDB(accounts.BadgerOptions{Path: dbPath, Logger: logger})
		if err != nil {
			return err
		}
		db = bdb
		logger.Info("opened account store", "path", dbPath, "accounts", bdb.GetAccountsCount())
	}
	defer db.Close()

	program := cfg.ProgramID
	if program.IsZero() && *restore == "" {
		kp, err := crypto.NewKeypair()
		if err != nil {
			return err
		}
		program = kp.PublicKey()
		logger.Warn("no program id configured, deploying at a fresh address", "program", program.String())
	}

	ledgerCfg := localnet.LedgerConfig{ProgramID: program, Logger: logger}
	var ledger *localnet.Ledger
	var err error
	if *restore != "" {
		ledger, err = localnet.RestoreLedger(*restore, db, ledgerCfg)
	} else {
		ledger, err = localnet.NewLedger(db, ledgerCfg)
	}
	if err != nil {
		return err
	}
	program = ledger.ProgramID()

	srvCfg := localnet.DefaultServerConfig()
	srvCfg.Address = *addr
	srvCfg.Logger = logger
	if cfg.Localnet.RateLimitRPS > 0 {
		srvCfg.EnableRateLimit = true
		srvCfg.RateLimitRPS = cfg.Localnet.RateLimitRPS
		srvCfg.RateLimitBurst = cfg.Localnet.RateLimitBurst
	}

	fmt.Printf("program: %s\nrpc:     http://%s\n", program, strings.TrimPrefix(*addr, "http://"))
	err = localnet.NewServer(srvCfg, ledger).Start(ctx)
	logger.Info("localnet stopped", "slot", ledger.Slot(), "transactions", ledger.TransactionCount())
	if *save != "" {
		if _, serr := ledger.SaveSnapshot(*save); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
