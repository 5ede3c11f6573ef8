// Command produce is the CLI driver (§6 "CLI"). Grounded on
// friedelschoen-mk's mk.go func main() — pflag option parsing, opening the
// build file, falling back to the file's default target when none are
// named on the command line — generalized from mk's single Graph.Build call
// per target to produce's plan-then-schedule pipeline, and from mk's
// ad hoc os.Exit(1) scattered through main to the §6 exit-code contract
// (0 success, 1 user-visible failure).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sanity-io/litter"
	"github.com/spf13/pflag"

	"github.com/texttheater/produce/internal/eval"
	"github.com/texttheater/produce/internal/exec"
	"github.com/texttheater/produce/internal/fresh"
	"github.com/texttheater/produce/internal/plan"
	"github.com/texttheater/produce/internal/plog"
	"github.com/texttheater/produce/internal/produceerr"
	"github.com/texttheater/produce/internal/ruleset"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		buildFile    string
		jobBudget    int
		dryRun       bool
		forceAll     bool
		buildOnly    []string
		pretendGlobs []string
		deepDebug    bool
	)

	flags := pflag.NewFlagSet("produce", pflag.ContinueOnError)
	flags.StringVarP(&buildFile, "file", "f", "produce.ini", "build file to read")
	flags.IntVarP(&jobBudget, "jobs", "j", 1, "number of recipes to run concurrently")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "plan and log, but do not execute recipes")
	flags.BoolVarP(&forceAll, "force", "B", false, "force every candidate target to rebuild")
	flags.StringArrayVarP(&buildOnly, "build-only", "b", nil, "restrict recipe execution to these targets")
	flags.StringArrayVarP(&pretendGlobs, "pretend", "u", nil, "pretend targets matching PATTERN are up to date")
	flags.BoolVar(&deepDebug, "dd", false, "verbose internal trace")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := plog.New(os.Stderr)

	f, err := os.Open(buildFile)
	if err != nil {
		return fail(logger, &produceerr.BuildFileIOError{Path: buildFile, Cause: err})
	}
	rs, err := ruleset.ParseFile(f, buildFile)
	f.Close()
	if err != nil {
		return fail(logger, err)
	}

	targetNames := flags.Args()
	if len(targetNames) == 0 {
		def, ok := rs.DefaultTarget()
		if !ok {
			fmt.Fprintln(os.Stderr, "produce: nothing to produce")
			return 1
		}
		targetNames = []string{def}
	}

	evaluator := eval.Evaluator(eval.JMESPathEvaluator{})
	planner := plan.New(rs, evaluator)

	var targets []*plan.Node
	for _, name := range targetNames {
		n, err := planner.Plan(name)
		if err != nil {
			return fail(logger, err)
		}
		targets = append(targets, n)
	}

	freshCtx := &fresh.Context{
		AlwaysBuild:     forceAll,
		PretendPatterns: pretendGlobs,
	}

	buildOnlySet := map[string]bool{}
	for _, t := range buildOnly {
		buildOnlySet[t] = true
	}

	sched := exec.New(planner, evaluator, freshCtx, logger, jobBudget, dryRun, buildOnlySet)
	stopSignals := sched.HandleSignals()
	defer stopSignals()

	if deepDebug {
		logger.Infof("scheduling %d top-level target(s): %s", len(targets), litter.Sdump(targetNames))
	}

	if err := sched.Build(context.Background(), targets); err != nil {
		if deepDebug {
			logger.Errorf("build aborted: %s", litter.Sdump(err))
		}
		return fail(logger, err)
	}

	if deepDebug {
		logger.Infof("build complete, %d subprocess(es) still tracked", sched.RunningCount())
	}
	return 0
}

func fail(logger *plog.Logger, err error) int {
	logger.Errorf("%s", err)
	return 1
}
