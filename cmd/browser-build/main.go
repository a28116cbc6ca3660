package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
	"github.com/systemstart/browser-build/pkg/logging"
	"github.com/systemstart/browser-build/pkg/notify"
	"github.com/systemstart/browser-build/pkg/processing"
	"github.com/systemstart/browser-build/pkg/resolve"
	"github.com/systemstart/browser-build/pkg/steps"
)

var version = "dev"

const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 130
)

const notificationDrainTimeout = 10 * time.Second

var (
	configFile   string
	pipelineName string
	modules      string
	rootDir      string
	chromiumSrc  string
	arch         string
	buildType    string
	platform     string
	dryRun       bool
	skip         []string
	only         []string
	envPairs     []string
	envFile      string
	listSteps    bool
	slack        bool
	metricsFile  string
	logDir       string
	loggingType  string
	logLevel     string
	showVersion  bool

	phaseFlags = map[string]*bool{}
)

func init() {
	pflag.StringVarP(&configFile, "config", "c", "", "pipeline configuration document (.yaml, .json or .jsonc)")
	pflag.StringVarP(&pipelineName, "pipeline", "p", "", "named pipeline of the configuration document")
	pflag.StringVarP(&modules, "modules", "m", "", "comma-separated list of steps to run")
	for _, phase := range resolve.DefaultPhases().Phases() {
		phaseFlags[phase] = pflag.Bool(phase, false, fmt.Sprintf("run the %s phase", phase))
	}
	pflag.StringVar(&rootDir, "root", "", "project root (default: working directory, or "+resolve.EnvRootDir+")")
	pflag.StringVar(&chromiumSrc, "chromium-src", "", "chromium checkout (default: <root>/chromium_src, or "+resolve.EnvChromiumSrc+")")
	pflag.StringVarP(&arch, "arch", "a", "", "target architecture: x64, arm64 or universal (default: host)")
	pflag.StringVarP(&buildType, "build-type", "t", "", "build type: debug or release (default: debug)")
	pflag.StringVar(&platform, "platform", "", "target platform: macos, linux or windows (default: host)")
	pflag.BoolVarP(&dryRun, "dry-run", "n", false, "log external commands instead of running them")
	pflag.StringSliceVar(&skip, "skip", nil, "steps to leave out")
	pflag.StringSliceVar(&only, "only", nil, "run only these steps")
	pflag.StringArrayVarP(&envPairs, "env", "e", nil, "KEY=VALUE override for the pipeline environment (repeatable)")
	pflag.StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env in the working directory, when present)")
	pflag.BoolVar(&listSteps, "list-steps", false, "list the available steps and exit")
	pflag.BoolVar(&slack, "slack", false, "post progress to the webhook in "+notify.EnvSlackWebhook)
	pflag.StringVar(&metricsFile, "metrics-file", "", "write step metrics to this textfile on exit")
	pflag.StringVar(&logDir, "log-dir", "", "also write the log to a timestamped file in this directory")
	pflag.StringVar(&loggingType, "logging-type", logging.Tint, "logging type: json, text or tint")
	pflag.StringVar(&logLevel, "log-level", "info", "logging level: debug, info, warn, error")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
}

func main() {
	pflag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(exitOK)
	}

	os.Exit(run())
}

func run() int {
	var logFile *os.File
	if logDir != "" {
		f, err := logging.OpenLogFile(logDir, time.Now())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailed
		}
		defer f.Close()
		logFile = f
	}

	var fileWriter io.Writer
	if logFile != nil {
		fileWriter = logFile
	}
	if err := logging.Initialize(loggingType, logLevel, os.Stdout, fileWriter); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	if logFile != nil {
		slog.Info("writing log file", "filename", logFile.Name())
	}

	if err := processing.LoadEnv(envFile); err != nil {
		slog.Error("failed to load environment", "error", err)
		return exitFailed
	}

	if listSteps {
		if err := printSteps(os.Stdout, steps.Default(steps.NewToolbox(true)).Definitions()); err != nil {
			slog.Error("failed to list steps", "error", err)
			return exitFailed
		}
		return exitOK
	}

	defaults, err := resolve.HostDefaults()
	if err != nil {
		slog.Error("failed to determine defaults", "error", err)
		return exitFailed
	}

	overrides, err := processing.ParseEnvOverrides(envPairs)
	if err != nil {
		slog.Error("invalid --env", "error", err)
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks := []processing.Sink{notify.NewConsole(os.Stdout)}

	var slackSink *notify.Slack
	if slack {
		s, err := notify.NewSlack(os.Getenv(notify.EnvSlackWebhook), notify.WithPlatform(targetPlatform(defaults)))
		if err != nil {
			slog.Warn("slack notifications disabled", "error", err)
		} else {
			slackSink = s
			sinks = append(sinks, s)
		}
	}

	var metrics *notify.Metrics
	if metricsFile != "" {
		metrics = notify.NewMetrics()
		sinks = append(sinks, metrics)
	}

	_, err = processing.Run(ctx, processing.Options{
		ConfigFile: configFile,
		Args:       buildArgs(),
		Env:        overrides,
		Defaults:   defaults,
		Sinks:      sinks,
	})

	if slackSink != nil {
		if cerr := slackSink.Close(notificationDrainTimeout); cerr != nil {
			slog.Warn("dropping pending notifications", "error", cerr)
		}
	}
	if metrics != nil {
		if werr := metrics.WriteTextfile(metricsFile); werr != nil {
			slog.Warn("failed to write metrics", "filename", metricsFile, "error", werr)
		}
	}

	return exitCode(err)
}

func buildArgs() resolve.Args {
	var phases []string
	for _, phase := range resolve.DefaultPhases().Phases() {
		if *phaseFlags[phase] {
			phases = append(phases, phase)
		}
	}
	return resolve.Args{
		RootDir:     rootDir,
		ChromiumSrc: chromiumSrc,
		Arch:        arch,
		BuildType:   buildType,
		Platform:    platform,
		DryRun:      dryRun,
		Skip:        skip,
		Only:        only,
		Pipeline:    pipelineName,
		Modules:     resolve.SplitList(modules),
		Phases:      phases,
	}
}

func targetPlatform(defaults resolve.Defaults) string {
	p, err := buildctx.ParsePlatform(platform)
	if err != nil {
		return defaults.Platform
	}
	return string(p)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	code := errs.CodeOf(err)
	slog.Error("build failed", "code", code, "error", err)
	if code == errs.CodeInterrupted {
		return exitInterrupted
	}
	return exitFailed
}

func printSteps(w io.Writer, defs []steps.Definition) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHASE\tPLATFORMS\tREQUIRES\tPROVIDES\tDRY-RUN\tDESCRIPTION")
	for _, d := range defs {
		platforms := make([]string, len(d.Platforms))
		for i, p := range d.Platforms {
			platforms[i] = string(p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, d.Phase,
			strings.Join(platforms, ","),
			orDash(d.Requires), orDash(d.Provides),
			yesNo(d.SupportsDryRun), d.Description)
	}
	return tw.Flush()
}

func orDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
