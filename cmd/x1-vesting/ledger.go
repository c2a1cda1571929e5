package main

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/config"
	"github.com/fortiblox/x1-vesting/pkg/journal"
	"github.com/fortiblox/x1-vesting/pkg/runtime"
	"github.com/fortiblox/x1-vesting/pkg/vesting"
)

// ledger bundles the stores and the runtime a command works against.
type ledger struct {
	db      *accounts.BadgerDB
	journal *journal.Journal
	rt      *runtime.Runtime
	root    *vesting.Root
}

func openLedger(cfg *config.Config) (*ledger, error) {
	programID, err := cfg.Program()
	if err != nil {
		return nil, err
	}
	root, err := vesting.NewRoot(programID)
	if err != nil {
		return nil, err
	}

	storeCfg := cfg.AccountsStore()
	storeCfg.Logger = logrus.StandardLogger().WithField("type", "badger")
	db, err := accounts.NewBadgerDB(storeCfg)
	if err != nil {
		return nil, errors.Wrap(err, "open accounts store")
	}

	l := &ledger{db: db, root: root}

	rtCfg := runtime.DefaultConfig()
	if cfg.MetricsAddress != "" {
		rtCfg.Registerer = prometheus.DefaultRegisterer
	}
	if !cfg.Journal.Disabled {
		j, err := journal.Open(cfg.JournalStore())
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "open journal")
		}
		l.journal = j
		rtCfg.Recorder = j
	}

	l.rt = runtime.New(db, rtCfg)
	l.rt.RegisterProgram(programID, "vesting", vesting.NewProgram(root))
	return l, nil
}

func (l *ledger) Close() {
	log := logrus.StandardLogger().WithField("type", "ledger")
	if l.journal != nil {
		if err := l.journal.Close(); err != nil {
			log.WithError(err).Warn("failed to close journal")
		}
	}
	if err := l.db.RunGC(); err != nil {
		log.WithError(err).Debug("value log gc skipped")
	}
	if err := l.db.Close(); err != nil {
		log.WithError(err).Warn("failed to close accounts store")
	}
}
