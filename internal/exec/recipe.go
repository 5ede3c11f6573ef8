// Recipe execution and atomic output handling (§4.5). Grounded on
// friedelschoen-mk's recipe.go dorecipe (shell selection, feeding the
// expanded recipe text to the shell's stdin rather than passing it as an
// argument) and mkPrintRecipe's announcement of a recipe before it runs
// (the completion record logged afterwards is Produce's own), adapted for
// the tilde-parked-output lifecycle §4.5 adds on top.
package exec

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/texttheater/produce/internal/plan"
	"github.com/texttheater/produce/internal/produceerr"
	"github.com/texttheater/produce/internal/ruleset"
)

// graceBeforeKill is how long a recipe gets to exit on its own after being
// sent SIGTERM before the scheduler escalates to SIGKILL (§4.4 "Already-
// running subprocesses are sent SIGTERM (and after a grace period,
// SIGKILL)").
const graceBeforeKill = 2 * time.Second

func memberNames(g *plan.Group) []string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Name
	}
	return names
}

// parkExisting renames any already-present output out of the way before a
// recipe runs, so the recipe starts from a clean slate and a crash midway
// leaves evidence rather than a half-written "real" file.
func parkExisting(names []string) error {
	for _, n := range names {
		if _, err := os.Lstat(n); err == nil {
			if err := os.Rename(n, n+"~"); err != nil {
				return err
			}
		}
	}
	return nil
}

// parkOnFailure renames whatever real outputs a failed recipe did manage to
// write to their tilde-parked form, overwriting any earlier parked copy, and
// leaves the canonical name absent so a retry sees it as missing.
func parkOnFailure(names []string) {
	for _, n := range names {
		if _, err := os.Lstat(n); err == nil {
			os.Rename(n, n+"~")
		}
	}
}

// commitSuccess removes any leftover parked copies once a recipe has
// succeeded and produced every declared output.
func commitSuccess(names []string) {
	for _, n := range names {
		os.Remove(n + "~")
	}
}

// missingOutputs reports which declared outputs a recipe failed to write
// despite exiting zero (§4.5 RecipeFailedToProduce).
func missingOutputs(names []string) []string {
	var missing []string
	for _, n := range names {
		if _, err := os.Stat(n); err != nil {
			missing = append(missing, n)
		}
	}
	return missing
}

// runShell runs recipeText under shellSpec's interpreter, feeding it on
// stdin the way friedelschoen-mk's dorecipe does, registering the *exec.Cmd
// with the scheduler so an abort can signal it.
func (s *Scheduler) runShell(ctx context.Context, shellSpec, recipeText string) error {
	parts := strings.Fields(shellSpec)
	if len(parts) == 0 {
		parts = []string{"/bin/sh"}
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = strings.NewReader(recipeText)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = graceBeforeKill

	s.trackCmd(cmd)
	defer s.untrackCmd(cmd)

	return cmd.Run()
}

// runRecipe executes primary's rule recipe for its whole output group,
// handling the full §4.5 atomic-output lifecycle. It does not evaluate
// freshness or acquire job slots: Scheduler.ensure judges freshness, and
// Scheduler.run, its caller, acquires the job slots.
func (s *Scheduler) runRecipe(ctx context.Context, primary *plan.Node, g *plan.Group) error {
	names := memberNames(g)

	recipeText, err := ruleset.ExpandTemplate(primary.Rule.Recipe, primary.Binding, s.Eval)
	if err != nil {
		return &produceerr.ExpansionError{Template: primary.Rule.Recipe, Cause: err}
	}

	s.Logger.Infof("%s: starting", primary.Name)

	if s.DryRun {
		s.Logger.Infof("%s: done (dry run)", primary.Name)
		return nil
	}

	if err := parkExisting(names); err != nil {
		return &produceerr.RecipeFailed{Target: primary.Name, ExitCode: -1}
	}

	runErr := s.runShell(ctx, primary.Rule.Shell, recipeText)
	if runErr != nil {
		parkOnFailure(names)
		code := -1
		var exitErr *exec.ExitError
		if ok := asExitError(runErr, &exitErr); ok {
			code = exitErr.ExitCode()
		}
		s.Logger.Errorf("%s: recipe failed", primary.Name)
		return &produceerr.RecipeFailed{Target: primary.Name, ExitCode: code}
	}

	if missing := missingOutputs(names); len(missing) > 0 {
		parkOnFailure(names)
		s.Logger.Errorf("%s: recipe did not produce %s", primary.Name, strings.Join(missing, ", "))
		return &produceerr.RecipeFailedToProduce{Target: missing[0]}
	}

	commitSuccess(names)
	for _, m := range g.Members {
		m.Refresh()
	}
	s.Logger.Infof("%s: done", primary.Name)
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
