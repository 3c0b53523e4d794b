package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/metadata"
	"freespace_cleaner/internal/reporting"
	"freespace_cleaner/internal/security"
	"freespace_cleaner/internal/session"
	"freespace_cleaner/internal/system"
	"freespace_cleaner/internal/ui"
	"freespace_cleaner/internal/wipe"
)

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List user mounted drives",
	Args:  cobra.NoArgs,
	RunE:  runDrives,
}

var infoCmd = &cobra.Command{
	Use:   "info <mount>",
	Short: "Show free space, device and drive type of a mount point",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var scanCmd = &cobra.Command{
	Use:   "scan <mount>",
	Short: "Count MFT entries on an NTFS volume (needs fsstat and fls)",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [mount]",
	Short: "Check privileges, forensic tools and, optionally, a target volume",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiagnose,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <mount>",
	Short: "Remove working directories left behind by an interrupted run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanup,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <mount>",
	Short: "Overwrite the free space of a mounted volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := session.ParseMode(modeFlag)
		if err != nil {
			return withExitCode(reporting.ExitError, err)
		}
		return runSession(cmd, args[0], mode)
	},
}

var cleanMetadataCmd = &cobra.Command{
	Use:   "clean-metadata <mount>",
	Short: "Churn filesystem metadata on an NTFS or exFAT volume without wiping free space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, args[0], session.ModeMetadataOnly)
	},
}

func init() {
	wipeCmd.Flags().StringP("method", "m", "", "Fill pattern (zeros/ones/random/3487)")
	wipeCmd.Flags().String("mode", string(session.ModeFull), "Session mode (full/metadata-only/free-space)")
	wipeCmd.Flags().BoolP("restart", "r", false, "Start a new pass when the volume is full")
	wipeCmd.Flags().Bool("cycle", false, "Rotate the fill pattern on every restart")
	wipeCmd.Flags().IntP("passes", "p", 0, "Stop after this many passes (0 = until cancelled)")
	wipeCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")

	cleanMetadataCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")
}

func runDrives(cmd *cobra.Command, args []string) error {
	prober := newProber()
	drives, err := prober.ListDrives(cmd.Context(), newRunner())
	if err != nil {
		return withExitCode(reporting.ExitError, err)
	}

	fmt.Print(ui.RenderDrives(drives))
	for _, d := range drives {
		if reason := security.SkipReason(cfg, d); reason != "" {
			fmt.Printf("  %s: %s\n", d.MountPoint, reason)
		}
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	drive, err := newProber().ProbeDrive(args[0])
	if err != nil {
		return withExitCode(reporting.ExitError, errors.Wrapf(err, "cannot read %s", args[0]))
	}
	fmt.Print(ui.RenderDriveInfo(drive))
	if reason := security.SkipReason(cfg, drive); reason != "" {
		fmt.Printf("  %-12s %s\n", "Skipped:", reason)
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := security.SecurityChecks(cfg); err != nil {
		return withExitCode(reporting.ExitError, err)
	}
	drive, err := newProber().ProbeDrive(args[0])
	if err != nil {
		return withExitCode(reporting.ExitError, errors.Wrapf(err, "cannot read %s", args[0]))
	}
	if metadata.KindOf(drive.FSType) != metadata.FSNTFS {
		return withExitCode(reporting.ExitWarning, errors.Newf("%s is %s; only NTFS volumes can be scanned", drive.MountPoint, drive.FSType))
	}

	console := ui.NewConsole(os.Stdout, isTerminal(os.Stdout))
	scanner := metadata.NewScanner(metadata.ScannerOptionsFromConfig(cfg), newRunner(), nil, logger)
	res := scanner.Scan(cmd.Context(), drive.MountPoint, console)

	fmt.Print(ui.RenderScan(res))
	target := metadata.PolicyFromConfig(cfg).TargetCount(res, drive.TotalBytes)
	fmt.Printf("  %-14s %d filler files\n", "Churn target:", target)
	if !res.Available() {
		return withExitCode(reporting.ExitWarning, errors.New("metadata scan returned no entry counts"))
	}
	return nil
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	mount := ""
	if len(args) == 1 {
		mount = args[0]
	}
	tools := []string{cfg.Metadata.FsstatPath, cfg.Metadata.FlsPath}
	runner := system.NewDiagnosticsRunner(newRunner(), newProber(), tools, mount, cfg.Wipe.WorkDirName)

	diag, err := runner.Run(cmd.Context())
	if err != nil {
		return withExitCode(reporting.ExitError, err)
	}
	fmt.Print(ui.RenderDiagnostics(diag))

	switch diag.Overall {
	case "CRITICAL":
		return withExitCode(reporting.ExitError, errors.New("diagnostics found critical problems"))
	case "WARNING":
		return withExitCode(reporting.ExitWarning, errors.New("diagnostics finished with warnings"))
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	leftovers, err := system.CleanLeftovers(cmd.Context(), args[0], cfg.Wipe.WorkDirName, logger, dryRun)
	for _, lo := range leftovers {
		verb := "removed"
		if dryRun {
			verb = "would remove"
		}
		fmt.Printf("%s %s (%d files, %s)\n", verb, lo.Path, lo.Files, ui.FormatBytes(uint64(lo.Bytes)))
	}
	if err != nil {
		return withExitCode(reporting.ExitError, err)
	}
	if len(leftovers) == 0 {
		fmt.Println("nothing to clean up")
	}
	return nil
}

// rateLimitWarning is non-empty when metadata churn would run unthrottled
// on media that normally gets the files/s limit.
func rateLimitWarning(c *config.Config, drive system.DriveInfo, mode session.Mode) string {
	if mode == session.ModeFreeSpace || c.Metadata.RateLimitPerSec > 0 {
		return ""
	}
	if !drive.DriveType.Throttled() || metadata.KindOf(drive.FSType) == metadata.FSOther {
		return ""
	}
	return fmt.Sprintf("rate_limit_per_sec is 0: metadata churn on %s media will run unthrottled", drive.DriveType)
}

// runSession is shared by wipe and clean-metadata.
func runSession(cmd *cobra.Command, mount string, mode session.Mode) error {
	if mode != session.ModeFreeSpace {
		if err := security.SecurityChecks(cfg); err != nil {
			return withExitCode(reporting.ExitError, err)
		}
	}

	prober := newProber()
	drive, err := prober.ProbeDrive(mount)
	if err != nil {
		return withExitCode(reporting.ExitError, errors.Wrapf(err, "cannot read %s", mount))
	}
	if reason := security.SkipReason(cfg, drive); reason != "" {
		return withExitCode(reporting.ExitError, errors.Newf("refusing to touch %s: %s", drive.MountPoint, reason))
	}

	opts := session.OptionsFromConfig(cfg)
	opts.Mode = mode
	if err := applyWipeFlags(cmd, &opts); err != nil {
		return withExitCode(reporting.ExitError, err)
	}

	console := ui.NewConsole(os.Stdout, isTerminal(os.Stdout))
	fmt.Println(ui.DriveLabel(drive))
	if opts.AutoRestart && (drive.DriveType == system.DriveSSD || drive.DriveType == system.DriveUSBSSD) {
		console.Warn("auto-restart on solid state media adds write wear without improving the wipe")
	}
	if msg := rateLimitWarning(cfg, drive, mode); msg != "" {
		console.Warn(msg)
		logger.Log("WARN", "Metadata churn is not rate limited", "mount", drive.MountPoint, "drive_type", drive.DriveType)
	}

	if dryRun {
		printPlan(drive, opts)
		return nil
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force && !confirm(fmt.Sprintf("Overwrite free space on %s (%s)? (y/N): ", drive.MountPoint, opts.Mode)) {
		logger.Log("INFO", "Operation cancelled by user", "mount", drive.MountPoint)
		return nil
	}

	runner := newRunner()
	scanner := metadata.NewScanner(metadata.ScannerOptionsFromConfig(cfg), runner, prober.Mounts, logger)
	cleaner := metadata.NewCleaner(metadata.CleanerOptionsFromConfig(cfg), metadata.PolicyFromConfig(cfg), scanner, logger)
	engine := wipe.NewEngine(wipe.OptionsFromConfig(cfg), wipe.NewPatternGenerator(), logger)

	s := session.New(drive, opts, session.Deps{
		Wiper:   engine,
		Cleaner: cleaner,
		Probe:   prober.ProbeDrive,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		return withExitCode(reporting.ExitError, err)
	}

	stopFailed := watchSignals(ctx, s, console, cfg.Wipe.JoinTimeout)
	for done := false; !done; {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				done = true
				continue
			}
			console.Emit(ev)
		case err := <-stopFailed:
			return withExitCode(reporting.ExitError, err)
		}
	}

	sum := s.Wait()
	fmt.Println(ui.RenderSummary(sum))

	report := reportingFor(sum)
	if code := report.ExitCode; code != reporting.ExitSuccess {
		return withExitCode(code, errors.Newf("session ended: %s", sum.Reason))
	}
	return nil
}

func applyWipeFlags(cmd *cobra.Command, opts *session.Options) error {
	flags := cmd.Flags()
	if flags.Lookup("method") == nil {
		return nil
	}

	if m, _ := flags.GetString("method"); m != "" {
		method, err := wipe.ParseMethod(m)
		if err != nil {
			return err
		}
		opts.Method = method
	}
	if flags.Changed("restart") {
		opts.AutoRestart, _ = flags.GetBool("restart")
	}
	if flags.Changed("cycle") {
		opts.CycleMethods, _ = flags.GetBool("cycle")
	}
	if flags.Changed("passes") {
		passes, _ := flags.GetInt("passes")
		if passes < 0 {
			return errors.Newf("passes cannot be negative, got %d", passes)
		}
		opts.MaxPasses = passes
	}
	return nil
}

func printPlan(drive system.DriveInfo, opts session.Options) {
	fmt.Println("[DRY-RUN] nothing will be written")
	fmt.Printf("  mode:         %s\n", opts.Mode)
	if opts.Mode != session.ModeMetadataOnly {
		fmt.Printf("  method:       %s\n", opts.Method)
		fmt.Printf("  auto restart: %v (cycle: %v, passes: %d)\n", opts.AutoRestart, opts.CycleMethods, opts.MaxPasses)
		fmt.Printf("  free space:   %s\n", ui.FormatBytes(drive.FreeBytes))
	}
	if opts.Mode != session.ModeFreeSpace {
		kind := metadata.KindOf(drive.FSType)
		if kind == metadata.FSOther {
			fmt.Printf("  metadata:     skipped (%s)\n", drive.FSType)
		} else {
			fmt.Printf("  metadata:     %s churn\n", kind)
		}
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(input), "y")
}

// stopTimeout falls back to the session default when the config leaves it unset.
func stopTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
