// Command ctsdiag runs the manufacturing self-tests of a touch controller.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"touchdiag.com/diag"
	"touchdiag.com/driver/cts"
	"touchdiag.com/internal/config"
	"touchdiag.com/report"
)

var (
	planPath  = flag.String("config", "ctsdiag.yaml", "test plan")
	simulate  = flag.Bool("sim", false, "run against the firmware simulator")
	only      = flag.String("test", "", "comma separated tests to run instead of the whole plan")
	logFile   = flag.String("log", "", "also log to rotated file")
	verbose   = flag.Bool("v", false, "verbose logging")
	reportOut = flag.String("report", "", "write CBOR report to file")
	broker    = flag.String("mqtt", "", "publish the report to MQTT broker, such as tcp://10.0.0.2:1883")
	topic     = flag.String("topic", "factory/touch/selftest", "MQTT topic")
)

var errFailed = errors.New("self-test failed")

func main() {
	flag.Parse()
	logger := newLogger(*verbose, *logFile)
	defer logger.Sync()
	if err := run(logger.Sugar()); err != nil {
		fmt.Fprintf(os.Stderr, "ctsdiag: %v\n", err)
		if errors.Is(err, errFailed) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func newLogger(verbose bool, file string) *zap.Logger {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level),
	}
	if file != "" {
		w := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 5,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			level,
		))
	}
	return zap.New(zapcore.NewTee(cores...))
}

// target is the controller under test.
type target struct {
	name  string
	dev   *cts.Device
	plat  cts.Platform
	att   cts.Attachment
	close func() error
}

func openTarget(c *config.Config, log *zap.SugaredLogger) (*target, error) {
	d := c.Dims()
	if *simulate {
		sim := cts.NewSimulator(d.Rows, d.Cols)
		dev := cts.New(sim, log)
		dev.Sleep = func(time.Duration) {}
		return &target{name: "simulator", dev: dev, plat: sim, att: sim, close: func() error { return nil }}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(c.Device.Bus)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Device.Bus, err)
	}
	pins := make(map[string]gpio.PinIO)
	for _, name := range []string{c.Device.ResetPin, c.Device.IntPin} {
		p := gpioreg.ByName(name)
		if p == nil {
			bus.Close()
			return nil, fmt.Errorf("no such pin: %q", name)
		}
		pins[name] = p
	}
	dev := cts.New(cts.NewI2C(bus, c.Addr()), log)
	b, err := cts.NewBoard(dev, pins[c.Device.ResetPin], pins[c.Device.IntPin])
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &target{
		name:  fmt.Sprintf("%s@%#02x", c.Device.Bus, c.Addr()),
		dev:   dev,
		plat:  b,
		att:   cts.NoAttachment{},
		close: bus.Close,
	}, nil
}

func run(log *zap.SugaredLogger) error {
	c, err := config.Load(*planPath)
	if err != nil {
		return err
	}
	selected, err := selectTests(c, *only)
	if err != nil {
		return err
	}
	t, err := openTarget(c, log)
	if err != nil {
		return err
	}
	defer t.close()

	chipID, err := t.dev.ReadChipID()
	if err != nil {
		log.Warnf("Read chip id failed: %v", err)
	}
	opts := []diag.Option{
		diag.WithLogger(log),
		diag.WithAttachment(t.att),
		diag.WithFalsePositive(c.FalsePositiveFunc()),
	}
	if *simulate {
		opts = append(opts, diag.WithSleep(func(time.Duration) {}))
	}
	tester := diag.New(t.dev, t.plat, c.Dims(), opts...)

	// Interrupts end the run between tests, leaving the device in
	// normal operation.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	rep := report.New(t.name, chipID, c.Dims(), time.Now())
loop:
	for _, i := range selected {
		select {
		case <-quit:
			log.Warn("Interrupted")
			break loop
		default:
		}
		kind, p, err := c.Param(i)
		if err != nil {
			return err
		}
		rep.Add(kind, tester.Run(kind, p))
	}
	fmt.Println(rep.Table())

	if err := export(rep); err != nil {
		return err
	}
	if len(rep.Tests) < len(selected) {
		return errors.New("interrupted")
	}
	if !rep.Passed() {
		return errFailed
	}
	return nil
}

// selectTests returns the indices of the plan's tests named in list, or
// every test if list is empty.
func selectTests(c *config.Config, list string) ([]int, error) {
	var idx []int
	if list == "" {
		for i := range c.Tests {
			idx = append(idx, i)
		}
		return idx, nil
	}
	for _, name := range strings.Split(list, ",") {
		kind, err := diag.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		found := false
		for i, t := range c.Tests {
			if k, _ := diag.ParseKind(t.Name); k == kind {
				idx = append(idx, i)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%v test not in %s", kind, *planPath)
		}
	}
	return idx, nil
}

func export(rep *report.Report) error {
	if *reportOut != "" {
		b, err := rep.Encode()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*reportOut, b, 0o644); err != nil {
			return err
		}
	}
	if *broker != "" {
		hostname, _ := os.Hostname()
		c, err := report.Dial(*broker, "ctsdiag-"+hostname, 10*time.Second)
		if err != nil {
			return err
		}
		defer c.Disconnect(250)
		if err := report.NewPublisher(c, *topic).Publish(rep); err != nil {
			return err
		}
	}
	return nil
}
