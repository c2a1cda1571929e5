package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/config"
	"github.com/fortiblox/x1-vesting/pkg/journal"
	"github.com/fortiblox/x1-vesting/pkg/runtime"
	"github.com/fortiblox/x1-vesting/pkg/svm"
	"github.com/fortiblox/x1-vesting/pkg/vesting"
)

// pubkeyFlag parses a base58 account address.
type pubkeyFlag struct {
	key types.Pubkey
	set bool
}

func (f *pubkeyFlag) String() string {
	if !f.set {
		return ""
	}
	return f.key.String()
}

func (f *pubkeyFlag) Set(s string) error {
	key, err := types.PubkeyFromBase58(s)
	if err != nil {
		return err
	}
	f.key, f.set = key, true
	return nil
}

// fundFlag collects repeated pubkey=lamports pairs.
type fundFlag []runtime.GenesisAccount

func (f *fundFlag) String() string {
	parts := make([]string, len(*f))
	for i, a := range *f {
		parts[i] = fmt.Sprintf("%s=%d", a.Pubkey, a.Lamports)
	}
	return strings.Join(parts, ",")
}

func (f *fundFlag) Set(s string) error {
	key, amount, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected pubkey=lamports, got %q", s)
	}
	pubkey, err := types.PubkeyFromBase58(key)
	if err != nil {
		return err
	}
	lamports, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return err
	}
	*f = append(*f, runtime.GenesisAccount{Pubkey: pubkey, Lamports: lamports})
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	return nil
}

func requirePubkeys(flags map[string]*pubkeyFlag) error {
	for name, f := range flags {
		if !f.set {
			return usagef("-%s is required", name)
		}
	}
	return nil
}

func runGenesis(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("genesis", flag.ContinueOnError)
	var fund fundFlag
	fs.Var(&fund, "fund", "Fund an account at genesis (pubkey=lamports, repeatable)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.rt.ApplyGenesis(&runtime.Genesis{Rent: cfg.RentParams(), Accounts: fund}); err != nil {
		return err
	}
	fmt.Printf("Genesis applied: %d funded accounts\n", len(fund))
	fmt.Printf("Program:        %s\n", l.root.ProgramID)
	fmt.Printf("Config address: %s (bump %d)\n", l.root.ConfigAddress, l.root.ConfigBump)
	return nil
}

func runAirdrop(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return usagef("airdrop takes a pubkey and an amount")
	}
	pubkey, err := types.PubkeyFromBase58(args[0])
	if err != nil {
		return usagef("pubkey: %v", err)
	}
	lamports, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return usagef("lamports: %v", err)
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.rt.Airdrop(ctx, pubkey, lamports); err != nil {
		return err
	}
	acct, err := l.rt.GetAccount(pubkey)
	if err != nil {
		return err
	}
	fmt.Printf("%s balance: %d\n", pubkey, acct.Lamports)
	return nil
}

func runInit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var payer, admin, mint pubkeyFlag
	fs.Var(&payer, "payer", "Account funding the configuration account")
	fs.Var(&admin, "admin", "Administrator allowed to create schedules")
	fs.Var(&mint, "mint", "Token mint the ledger vests")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requirePubkeys(map[string]*pubkeyFlag{"payer": &payer, "admin": &admin, "mint": &mint}); err != nil {
		return err
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	ix := vesting.NewInitializeInstruction(
		l.root,
		&vesting.InitializeInstructionAccounts{Payer: payer.key, Mint: mint.key},
		&vesting.InitializeArgs{Administrator: admin.key},
	)
	return execute(ctx, l, ix, payer.key)
}

func runCreateSchedule(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-schedule", flag.ContinueOnError)
	var admin, beneficiary pubkeyFlag
	fs.Var(&admin, "admin", "Administrator signing and paying for the schedule account")
	fs.Var(&beneficiary, "beneficiary", "Beneficiary the schedule address is derived from")
	amount := fs.Uint64("amount", 0, "Token amount to vest")
	start := fs.Uint64("start", 0, "Vesting start (unix seconds)")
	cliff := fs.Uint64("cliff", 0, "Cliff length in seconds")
	duration := fs.Uint64("duration", 0, "Vesting duration in seconds")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requirePubkeys(map[string]*pubkeyFlag{"admin": &admin, "beneficiary": &beneficiary}); err != nil {
		return err
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	ix, err := vesting.NewCreateVestingScheduleInstruction(
		l.root,
		&vesting.CreateVestingScheduleInstructionAccounts{Administrator: admin.key},
		&vesting.CreateVestingScheduleArgs{
			Beneficiary: beneficiary.key,
			Amount:      *amount,
			StartDate:   *start,
			Cliff:       *cliff,
			Duration:    *duration,
		},
	)
	if err != nil {
		return err
	}
	return execute(ctx, l, ix, admin.key)
}

func execute(ctx context.Context, l *ledger, ix svm.Instruction, signers ...types.Pubkey) error {
	res, err := l.rt.Execute(ctx, &runtime.Transaction{
		Instructions: []svm.Instruction{ix},
		Signers:      signers,
		Nonce:        uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return err
	}

	for _, line := range res.Logs {
		fmt.Println("  " + line)
	}
	if !res.Success {
		if code, ok := vesting.Code(res.Err); ok {
			return errors.Wrapf(res.Err, "transaction %s failed with custom program error 0x%x", res.ID, code)
		}
		return errors.Wrapf(res.Err, "transaction %s failed", res.ID)
	}

	fmt.Printf("Transaction %s committed at slot %d (%d CU)\n", res.ID, res.Slot, res.ComputeUnitsUsed)
	return nil
}

func runShowConfig(_ context.Context, cfg *config.Config, args []string) error {
	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	acct, err := l.rt.GetAccount(l.root.ConfigAddress)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("ledger not initialized: no account at %s", l.root.ConfigAddress)
	} else if err != nil {
		return err
	}

	var record vesting.ConfigurationRecord
	if err := record.Unmarshal(acct.Data); err != nil {
		return err
	}
	fmt.Printf("Config address: %s\n", l.root.ConfigAddress)
	fmt.Printf("Owner:          %s\n", acct.Owner)
	fmt.Printf("Lamports:       %d\n", acct.Lamports)
	fmt.Printf("Administrator:  %s\n", record.Administrator)
	fmt.Printf("Mint:           %s\n", record.Mint)
	return nil
}

func runShowSchedule(_ context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return usagef("show-schedule takes a beneficiary")
	}
	beneficiary, err := types.PubkeyFromBase58(args[0])
	if err != nil {
		return usagef("beneficiary: %v", err)
	}

	fs := flag.NewFlagSet("show-schedule", flag.ContinueOnError)
	now := fs.Uint64("now", uint64(time.Now().Unix()), "Time to compute the unlocked amount at (unix seconds)")
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	addr, bump, err := l.root.ScheduleAddress(beneficiary)
	if err != nil {
		return err
	}
	acct, err := l.rt.GetAccount(addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("no schedule for %s at %s", beneficiary, addr)
	} else if err != nil {
		return err
	}

	var s vesting.VestingSchedule
	if err := s.Unmarshal(acct.Data); err != nil {
		return err
	}
	fmt.Printf("Schedule address: %s (bump %d)\n", addr, bump)
	fmt.Printf("Amount:           %d\n", s.Amount)
	fmt.Printf("Start:            %d (%s)\n", s.StartDate, time.Unix(int64(s.StartDate), 0).UTC().Format(time.RFC3339))
	fmt.Printf("Cliff end:        %d\n", s.CliffEnd())
	fmt.Printf("End:              %d\n", s.End())
	fmt.Printf("Unlocked at %d:  %d\n", *now, s.Unlocked(*now))
	return nil
}

func runHistory(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var account pubkeyFlag
	fs.Var(&account, "account", "Only show transactions that modified this account")
	limit := fs.Int("limit", 20, "Maximum entries to show")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if cfg.Journal.Disabled {
		return errors.New("journal is disabled in the configuration")
	}

	jcfg := cfg.JournalStore()
	jcfg.ReadOnly = true
	j, err := journal.Open(jcfg)
	if err != nil {
		return err
	}
	defer j.Close()

	var entries []*journal.Entry
	if account.set {
		entries, err = j.ForAccount(account.key, *limit)
	} else {
		entries, err = j.Recent(*limit)
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed: " + e.Error
		}
		fmt.Printf("#%d %s slot=%d cu=%d %s %s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Slot, e.ComputeUnitsUsed, e.ID, status)
		for _, pubkey := range e.ModifiedAccounts {
			fmt.Printf("    modified %s\n", pubkey)
		}
	}
	return nil
}

func runSnapshot(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	out := fs.String("out", cfg.SnapshotPath(), "Snapshot file to write")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	header, err := accounts.CreateSnapshot(l.db, *out)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path":     *out,
		"slot":     header.Slot,
		"accounts": header.AccountsCount,
	}).Info("snapshot written")
	fmt.Printf("Accounts hash: %s\n", header.AccountsHash)
	return nil
}

func runRestore(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	in := fs.String("in", cfg.SnapshotPath(), "Snapshot file to load")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := os.Stat(*in); err != nil {
		return err
	}

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	count, err := l.db.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("accounts store is not empty (%d accounts)", count)
	}

	header, err := accounts.LoadSnapshot(*in, l.db)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d accounts at slot %d, hash %s\n", header.AccountsCount, header.Slot, header.AccountsHash)
	return nil
}

func runHash(_ context.Context, cfg *config.Config, args []string) error {
	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	hash, err := accounts.ComputeAccountsHash(l.db)
	if err != nil {
		return err
	}
	count, err := l.db.AccountsCount()
	if err != nil {
		return err
	}
	fmt.Printf("Slot %d, %d accounts, hash %s\n", l.db.GetSlot(), count, hash)
	return nil
}
