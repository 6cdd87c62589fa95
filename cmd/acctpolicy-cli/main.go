// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command acctpolicy-cli is a small command-line front end over the
// accounting policy engine (internal/acctpolicy) and its admin server
// (internal/server): validate a job against a fixture catalogue, print a
// usage snapshot, or serve the admin HTTP surface, mirroring the
// teacher's many small cmd/*/main.go demo tools.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrandall/slurm/internal/acctpolicy"
	"github.com/jrandall/slurm/internal/server"
	"github.com/jrandall/slurm/pkg/config"
	"github.com/jrandall/slurm/pkg/logging"
	"github.com/jrandall/slurm/pkg/metrics"
	"github.com/jrandall/slurm/pkg/report"
)

var (
	app = kingpin.New("acctpolicy-cli", "Accounting policy engine validate/usage/serve tool.")

	validateCmd       = app.Command("validate", "Validate a job descriptor against a fixture catalogue.")
	validateFixtures   = validateCmd.Flag("fixtures", "Path to a TOML association/QOS fixture file.").Required().String()
	validateAccount    = validateCmd.Flag("account", "Account name.").Required().String()
	validateUser       = validateCmd.Flag("user", "Numeric user id.").Required().Uint32()
	validatePartition  = validateCmd.Flag("partition", "Partition name.").Default("").String()
	validateQOS        = validateCmd.Flag("qos", "QOS name.").Default("").String()
	validateJobID      = validateCmd.Flag("job-id", "Job id.").Default("1").Uint32()
	validateMinNodes   = validateCmd.Flag("min-nodes", "Minimum nodes requested.").Default("1").Uint64()
	validateMaxNodes   = validateCmd.Flag("max-nodes", "Maximum nodes requested.").Default("1").Uint64()
	validateTimeLimit  = validateCmd.Flag("time-limit", "Requested time limit, in minutes (0 lets the policy pick a default).").Default("0").Uint64()
	validateTRES       = validateCmd.Flag("tres", "TRES request as a \"name=count,...\" list.").Default("").String()

	usageCmd          = app.Command("usage", "Print a usage snapshot.")
	usageAssocCmd      = usageCmd.Command("association", "Print an association's usage snapshot.")
	usageAssocFixtures = usageAssocCmd.Flag("fixtures", "Path to a TOML association/QOS fixture file.").Required().String()
	usageAssocID       = usageAssocCmd.Arg("id", "Association id.").Required().Uint32()
	usageQOSCmd        = usageCmd.Command("qos", "Print a QOS's usage snapshot.")
	usageQOSFixtures   = usageQOSCmd.Flag("fixtures", "Path to a TOML association/QOS fixture file.").Required().String()
	usageQOSName       = usageQOSCmd.Arg("name", "QOS name.").Required().String()

	serveCmd      = app.Command("serve", "Serve the admin HTTP surface over a fixture catalogue.")
	serveFixtures = serveCmd.Flag("fixtures", "Path to a TOML association/QOS fixture file.").Required().String()
	serveAddr     = serveCmd.Flag("addr", "Listen address.").Default(":8080").Envar("ACCTPOLICY_ADDR").String()
	serveDebug    = serveCmd.Flag("debug", "Enable debug logging.").Bool()
)

func main() {
	kingpin.HelpFlag.Short('h')
	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case validateCmd.FullCommand():
		runValidate()
	case usageAssocCmd.FullCommand():
		runUsageAssociation()
	case usageQOSCmd.FullCommand():
		runUsageQOS()
	case serveCmd.FullCommand():
		runServe()
	}
}

func newEngine(fixturesPath string, debug bool, collector metrics.Collector) (*acctpolicy.Ctx, map[string]*acctpolicy.QoS) {
	cfg := config.NewDefault()
	cfg.Debug = debug
	cat := acctpolicy.NewTRESCatalogue(cfg.TRESCatalogue)

	table, qosByName, err := loadFixtures(fixturesPath, cat)
	if err != nil {
		exitf("%v", err)
	}

	level := logging.DefaultConfig().Level
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{
		Level:   level,
		Format:  logging.FormatText,
		Output:  os.Stderr,
		Version: "acctpolicy-cli",
	})

	engine := acctpolicy.NewCtx(cfg, cat, table, acctpolicy.Hooks{}, logger, collector)
	return engine, qosByName
}

func runValidate() {
	engine, qosByName := newEngine(*validateFixtures, false, nil)

	assoc := engine.Assoc.FindByKey(*validateAccount, userKey(*validateUser), *validatePartition)
	if assoc == nil {
		exitf("no association for account=%s user=%d partition=%q", *validateAccount, *validateUser, *validatePartition)
	}

	var qos *acctpolicy.QoS
	if *validateQOS != "" {
		q, ok := qosByName[*validateQOS]
		if !ok {
			exitf("unknown qos %q", *validateQOS)
		}
		qos = q
	}

	timeLimit := *validateTimeLimit
	if timeLimit == 0 {
		timeLimit = acctpolicy.NoVal
	}

	job := &acctpolicy.Job{
		ID:            *validateJobID,
		UserID:        *validateUser,
		Assoc:         assoc,
		QOS:           qos,
		TimeLimit:     timeLimit,
		MinNodes:      *validateMinNodes,
		MaxNodes:      *validateMaxNodes,
		TRESReq:       vectorFromTRESString(engine.TRES, *validateTRES),
		AccountName:   *validateAccount,
		PartitionName: *validatePartition,
	}

	var reason acctpolicy.WaitReason
	admit := engine.Validate(job, nil, &reason, false)

	if admit {
		fmt.Printf("admit (time_limit=%d)\n", job.TimeLimit)
		return
	}
	fmt.Printf("hold: reason code %d\n", reason)
	os.Exit(1)
}

func runUsageAssociation() {
	engine, _ := newEngine(*usageAssocFixtures, false, nil)
	assoc := engine.Assoc.Lookup(*usageAssocID)
	if assoc == nil {
		exitf("no association with id %d", *usageAssocID)
	}
	fmt.Print(report.AssociationUsage(engine.TRES, assoc))
}

func runUsageQOS() {
	engine, qosByName := newEngine(*usageQOSFixtures, false, nil)
	q, ok := qosByName[*usageQOSName]
	if !ok {
		exitf("no qos named %q", *usageQOSName)
	}
	fmt.Print(report.QOSUsage(engine.TRES, q))
}

func runServe() {
	collector := metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	engine, qosByName := newEngine(*serveFixtures, *serveDebug, collector)
	logger := logging.NewLogger(&logging.Config{
		Level:   logging.DefaultConfig().Level,
		Format:  logging.FormatText,
		Output:  os.Stderr,
		Version: "acctpolicy-cli",
	})

	srv := &http.Server{
		Addr:              *serveAddr,
		Handler:           server.New(engine, logger, qosByName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", *serveAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		exitf("admin server failed: %v", err)
	case <-quit:
	}

	logger.Info("shutting down admin server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("admin server forced to shutdown", "err", err)
	}
}

// userKey mirrors internal/server's own uid-to-association-user-key
// convention, so a fixture file's `user = "uid:7"` entries resolve the
// same way a real job submission would.
func userKey(uid uint32) string {
	return fmt.Sprintf("uid:%d", uid)
}
