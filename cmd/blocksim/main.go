// Command blocksim powers up a simulated block device, replays a workload
// file through the framefs driver and compares the resulting files against
// reference copies.
//
//	blocksim [--config FILE] [--verbose] [--log FILE] run [--workload-dir DIR] WORKLOAD
//	blocksim unit
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/keks/framefs"
	"github.com/keks/framefs/bus"
	"github.com/keks/framefs/config"
	"github.com/keks/framefs/driver"
	"github.com/keks/framefs/workload"
)

func init() {
	// -v is taken by --verbose
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func main() {
	if err := newApp(os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "blocksim: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "blocksim",
		Usage:     "replay a workload against the simulated block device",
		Version:   "0.1.0",
		ErrWriter: stderr,

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (default $" + config.EnvVar + ")",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log driver and simulator activity",
			},
			&cli.StringFlag{
				Name:    "log",
				Aliases: []string{"l"},
				Usage:   "write log messages to `FILE`",
			},
		},

		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run a workload file and validate the result",
				ArgsUsage: "<workload-file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "workload-dir",
						Value: "workload",
						Usage: "directory holding the reference files",
					},
					&cli.BoolFlag{
						Name:  "no-validate",
						Usage: "skip comparing files against their references",
					},
				},
				Action: runWorkload,
			},
			{
				Name:   "unit",
				Usage:  "run the built-in controller self test",
				Action: runUnit,
			},
		},
	}
}

// setup loads the config and points the logger at the configured output.
func setup(c *cli.Context) (*config.Config, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	if c.Bool("verbose") && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	framefs.SetLogLevel(level)

	out := c.App.ErrWriter
	cleanup := func() {}
	logPath := c.String("log")
	if logPath == "" {
		logPath = cfg.Log.File
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		cleanup = func() { f.Close() }
	}
	framefs.SetLogOutput(out, logFormat(cfg.Log.Format, out))
	framefs.LogDebug(framefs.ComponentSim, "logging configured", "level", framefs.GetLogLevel().String())

	return cfg, cleanup, nil
}

func logFormat(name string, w io.Writer) framefs.LogFormat {
	switch name {
	case "json":
		return framefs.LogFormatJSON
	case "text":
		return framefs.LogFormatText
	}

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return framefs.LogFormatText
	}
	return framefs.LogFormatJSON
}

// device is the controller stack built from the config.
type device struct {
	bus   framefs.Bus
	mem   *bus.MemoryBus
	file  *bus.FileBus
	image string
	comp  bus.Compression
}

func openDevice(cfg *config.Config) (*device, error) {
	sig, err := framefs.SignatureByName(cfg.Bus.Signature)
	if err != nil {
		return nil, err
	}
	sum := framefs.NewChecksummer(sig)

	dev := &device{image: cfg.Bus.Image}
	dev.comp, err = bus.ParseCompression(cfg.Bus.ImageCompression)
	if err != nil {
		return nil, err
	}

	switch cfg.Bus.Kind {
	case "file":
		dev.file, err = bus.OpenFileBus(cfg.Bus.Path, sum, cfg.Driver.CapacityFrames)
		if err != nil {
			return nil, err
		}
		dev.bus = dev.file
	default:
		dev.mem = bus.NewMemoryBusSize(sum, cfg.Driver.CapacityFrames)
		dev.bus = dev.mem
		if dev.image != "" {
			if err := dev.loadImage(); err != nil {
				return nil, err
			}
		}
	}

	if f := cfg.Bus.Faults; f.Enabled() {
		fb := bus.NewFaultBus(dev.bus)
		seed := f.Seed
		if seed == 0 {
			seed = rand.Int63()
		}
		fb.SetRates(seed, f.CorruptRate, f.FailureRate)
		framefs.LogInfo(framefs.ComponentSim, "fault injection enabled",
			"seed", seed, "corrupt_rate", f.CorruptRate, "failure_rate", f.FailureRate)
		dev.bus = fb
	}

	return dev, nil
}

func (d *device) loadImage() error {
	f, err := os.Open(d.image)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()
	return d.mem.LoadImage(f)
}

// close persists the block: the image for a memory bus, a sync for a file bus.
func (d *device) close() error {
	if d.file != nil {
		return d.file.Close()
	}
	if d.mem == nil || d.image == "" {
		return nil
	}

	f, err := os.Create(d.image)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}
	if err := d.mem.SaveImage(f, d.comp); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runWorkload(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("missing workload file, see --help", 2)
	}

	cfg, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	wl, err := os.Open(c.Args().First())
	if err != nil {
		return fmt.Errorf("opening workload: %w", err)
	}
	defer wl.Close()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}

	opts, err := cfg.DriverOptions()
	if err != nil {
		return err
	}
	sys := driver.New(dev.bus, opts...)

	if err := sys.PowerOn(); err != nil {
		return errors.Join(err, dev.close())
	}
	framefs.LogInfo(framefs.ComponentSim, "simulator initialized")

	runner := workload.NewRunner(sys)
	err = runner.Run(wl)
	if err == nil && !c.Bool("no-validate") {
		err = runner.Validate(c.String("workload-dir"))
	}
	if err != nil {
		framefs.LogError(framefs.ComponentSim, "simulation failed", "err", err)
		return errors.Join(err, sys.PowerOff(), dev.close())
	}

	if err := sys.PowerOff(); err != nil {
		return errors.Join(err, dev.close())
	}
	if err := dev.close(); err != nil {
		return err
	}

	framefs.LogInfo(framefs.ComponentSim, "simulator shut down", "files", len(runner.Files()))
	fmt.Fprintln(c.App.Writer, "BLOCK simulation: all tests successful.")
	return nil
}

func runUnit(c *cli.Context) error {
	cfg, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	sig, err := framefs.SignatureByName(cfg.Bus.Signature)
	if err != nil {
		return err
	}

	if err := selfTest(framefs.NewChecksummer(sig), rand.New(rand.NewSource(1))); err != nil {
		return fmt.Errorf("unit tests failed: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "Unit tests completed successfully.")
	return nil
}
