// Command extsearch is a thin CLI entrypoint: flag parsing and wiring
// only, no search logic of its own (spec.md §1 keeps option parsing,
// CLI flags, and the PDDL/SAS+ front end out of the engine's scope).
//
// Grounded on cmd/frigg-cli/main.go's style: package-level flag vars, an
// init() registering them, and a main() that dispatches to small
// functions rather than building a cobra/kingpin command tree.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/shunjilin/extsearch/engine/config"
)

var (
	configPath string
	workDir    string
	openKind   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to a YAML engine config file (defaults applied if omitted)")
	flag.StringVar(&workDir, "work-dir", ".", "directory for bucket files")
	flag.StringVar(&openKind, "open", "hash-ddd", "open list variant: hash-ddd or external-astar")
}

func main() {
	flag.Parse()

	logger := log.NewLogfmtLogger(os.Stdout)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	cfg, err := loadConfig()
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log("msg", "extsearch engine configured",
		"work_dir", workDir, "open", openKind, "shards", cfg.HashDDD.Shards)

	// SuccessorGen, Apply, and Evaluator are out of scope (spec.md §1):
	// a real front end wires them in before calling search.Driver.Run.
	fmt.Println("extsearch: engine configured; supply a front end to drive a search")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(configPath)
}
