package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/logger"
)

// @title Economo 2018 ephys API
// @version 1.0
// @description Sessions, units and trial-segmented spike times of the ALM projection recordings, with NWB and EDF export.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	var (
		cfgPath = flag.String("config", "", "config file (env: ECONOMO_CONFIG, default config/config.yaml)")
		envOnly = flag.Bool("env-only", false, "read config from ECONOMO_* env only (env: ECONOMO_ENV_ONLY)")
	)
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage(os.Stderr)
		os.Exit(2)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(os.Stdout)
		return
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("ECONOMO_CONFIG")
	}
	if path == "" {
		path = "config/config.yaml"
	}
	if raw := os.Getenv("ECONOMO_ENV_ONLY"); raw != "" && !*envOnly {
		*envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(path, *envOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer log.Sync()

	a := &app{cfg: cfg, logger: log, stdout: os.Stdout}
	defer a.close()
	if err := a.dispatch(args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		a.close()
		_ = log.Sync()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `economo [global flags] <command> [flags]

Global Flags:
  --config      config file (env: ECONOMO_CONFIG, default config/config.yaml)
  --env-only    ignore the config file and read ECONOMO_* env only (env: ECONOMO_ENV_ONLY)

Commands:
  migrate   create or update the schema
  ingest    load .mat archives (--dir, --file)
  segment   segment spike times per trial (--setting 0,1)
  psth      compute PSTHs for settings with a bin size (--setting)
  export    write NWB/EDF files (--subject, --session, --out, --overwrite, --container, --format)
  run       ingest, segment, psth and export under the pipeline lock (--schedule)
  serve     HTTP API with optional scheduled pipeline runs
  token     sign an API bearer token (--subject, --scope read|export)
`)
}
