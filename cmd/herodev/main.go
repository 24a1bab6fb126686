// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// herodev opens an accelerator, boots it and exchanges mailbox words with
// it. With -sim it runs against a simulated platform with a firmware
// double answering on the device side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hero-runtime/libhero/pkg/config"
	"github.com/hero-runtime/libhero/pkg/healthz"
	"github.com/hero-runtime/libhero/pkg/lifecycle"
	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/mailbox"
	"github.com/hero-runtime/libhero/pkg/metrics"
	"github.com/hero-runtime/libhero/pkg/metrics/collectors"
	"github.com/hero-runtime/libhero/pkg/platform"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/runtime"
	"github.com/hero-runtime/libhero/pkg/sim"
	"github.com/hero-runtime/libhero/pkg/utils"
	"github.com/hero-runtime/libhero/pkg/variants"
)

type logrusFormatter struct{}

func (f *logrusFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return fmt.Appendf(nil, "herodev: %s %s\n", entry.Level, entry.Message), nil
}

var (
	log *logrus.Logger
)

type command struct {
	usage string
	run   func(ctx context.Context, s *session, args []string) error
	start bool
	// serve runs until interrupted, without the exchange timeout.
	serve bool
}

var commands = map[string]*command{
	"regions": {usage: "list the regions and memories of the accelerator", run: cmdRegions},
	"boot":    {usage: "boot the accelerator and wait until it is ready", run: cmdBoot, start: true},
	"send":    {usage: "send words to the accelerator: send WORD...", run: cmdSend, start: true},
	"recv":    {usage: "receive words from the accelerator: recv [COUNT]", run: cmdRecv, start: true},
	"ping":    {usage: "boot, send a word, wait for the reply and stop: ping [WORD]", run: cmdPing, start: true},
	"stats":   {usage: "show heap and mailbox statistics", run: cmdStats},
	"serve":   {usage: "boot and serve metrics until interrupted", run: cmdServe, start: true, serve: true},
}

// session is an opened device with whatever it was opened with.
type session struct {
	cfg     *config.Config
	path    string
	dev     *runtime.Device
	machine *sim.Machine
	dir     region.Directory
	reg     *metrics.Registry
	fwErrs  <-chan error
}

func main() {
	log = logrus.StandardLogger()
	log.SetFormatter(&logrusFormatter{})

	configFlag := flag.String("config", "", "Configuration file")
	platformFlag := flag.String("platform", "", "Platform, one of "+strings.Join(platform.Names(), ", "))
	variantFlag := flag.String("variant", "", "Accelerator, one of "+strings.Join(variants.Names(), ", "))
	nodeFlag := flag.String("node", "", "Driver device node, empty for the platform default")
	simFlag := flag.Bool("sim", false, "Run against a simulated platform")
	absentFlag := flag.String("absent", "", "Comma-separated list of regions the simulated platform lacks")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "Timeout for mailbox exchanges, 0 for none")
	verboseFlag := flag.Bool("v", false, "Enable verbose logging")
	veryVerboseFlag := flag.Bool("vv", false, "Enable very verbose logging")
	flag.Usage = usage
	flag.Parse()

	log.SetLevel(logrus.InfoLevel)
	if *verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}
	if *veryVerboseFlag {
		log.SetLevel(logrus.TraceLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		log.Fatalf("unknown command %q", args[0])
	}

	cfg := config.Defaults()
	if *configFlag != "" {
		c, err := config.Load(*configFlag)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg = c
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "platform":
			cfg.Device.Platform = *platformFlag
		case "variant":
			cfg.Device.Variant = *variantFlag
		case "node":
			cfg.Device.Node = *nodeFlag
		case "sim":
			cfg.Device.Simulate = *simFlag
		case "absent":
			cfg.Device.SimulateAbsent = strings.Split(*absentFlag, ",")
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	switch {
	case *veryVerboseFlag:
		cfg.Log.Level = "trace"
	case *verboseFlag:
		cfg.Log.Level = "debug"
	}
	if err := logger.Configure(&cfg.Log); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	logger.SetSlogLogger("herodev")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := open(ctx, cfg, *configFlag)
	if err != nil {
		log.Fatalf("failed to open %s: %v", cfg.Device.Variant, err)
	}

	err = s.run(ctx, cmd, args[1:], *timeoutFlag)
	if cerr := s.close(); cerr != nil {
		log.Errorf("close failed: %v", cerr)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] command [args]\n\ncommands:\n", os.Args[0])
	w := tabwriter.NewWriter(flag.CommandLine.Output(), 0, 8, 2, ' ', 0)
	for _, name := range []string{"regions", "boot", "send", "recv", "ping", "stats", "serve"} {
		fmt.Fprintf(w, "  %s\t%s\n", name, commands[name].usage)
	}
	w.Flush()
	fmt.Fprintf(flag.CommandLine.Output(), "\noptions:\n")
	flag.PrintDefaults()
}

func open(ctx context.Context, cfg *config.Config, path string) (*session, error) {
	s := &session{
		cfg:  cfg,
		path: path,
		reg:  metrics.NewRegistry(),
	}

	p, err := platform.Get(cfg.Device.Platform)
	if err != nil {
		return nil, err
	}
	v, err := variants.Get(cfg.Device.Variant)
	if err != nil {
		return nil, err
	}
	if v.Platform() != p.Name {
		return nil, fmt.Errorf("%s is not an accelerator of platform %s", v.Name(), p.Name)
	}

	if cfg.Device.Simulate {
		var absent []region.ID
		for _, name := range cfg.Device.SimulateAbsent {
			id, ok := p.RegionID(strings.TrimSpace(name))
			if !ok {
				return nil, fmt.Errorf("platform %s has no region %q", p.Name, name)
			}
			absent = append(absent, id)
		}
		if s.machine, err = sim.New(p, absent...); err != nil {
			return nil, err
		}
		s.fwErrs = s.machine.RunOnBoot(ctx, sim.Echo)
		s.dir = s.machine.Dir
		log.Infof("simulating platform %s", p.Name)
	} else {
		if s.dir, err = p.OpenDriver(cfg.Device.Node); err != nil {
			return nil, err
		}
	}

	s.dev, err = runtime.Open(ctx, v, s.dir,
		runtime.WithConfig(cfg),
		runtime.WithMetrics(s.reg),
	)
	if err != nil {
		s.dir.Close()
		return nil, err
	}

	return s, nil
}

func (s *session) run(ctx context.Context, cmd *command, args []string, timeout time.Duration) error {
	if cmd.start {
		if err := s.dev.Start(ctx); err != nil {
			return err
		}
	}
	if timeout > 0 && !cmd.serve {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return cmd.run(ctx, s, args)
}

func (s *session) close() error {
	err := s.dev.Close(context.Background())
	if cerr := s.dir.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if s.fwErrs != nil {
		select {
		case ferr := <-s.fwErrs:
			log.Warnf("firmware double: %v", ferr)
		default:
		}
	}
	if log.IsLevelEnabled(logrus.DebugLevel) {
		s.dev.Timestamps().Dump(os.Stderr)
	}
	return err
}

func cmdRegions(_ context.Context, s *session, _ []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "REGION\tROLE\tPHYS\tSIZE\tSTATUS\n")
	for _, r := range s.dev.Regions() {
		if !r.Available() {
			fmt.Fprintf(w, "%s\t%s\t-\t-\tunavailable\n", r.Name, r.Role)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t0x%x\t0x%x\tmapped\n", r.Name, r.Role, r.Mapping.Info.Phys, r.Mapping.Size())
	}

	fmt.Fprintf(w, "\nMEMORY\tKIND\tPHYS\tSIZE\t\n")
	for _, m := range s.dev.LocalMemories() {
		fmt.Fprintf(w, "%s\tlocal\t0x%x\t0x%x\t\n", m.Alias, m.Phys, m.Size)
	}
	for _, m := range s.dev.GlobalMemories() {
		fmt.Fprintf(w, "%s\tglobal\t0x%x\t0x%x\t\n", m.Alias, m.Phys, m.Size)
	}
	return nil
}

func waitReady(ctx context.Context, s *session) error {
	w, err := s.dev.RecvControl(ctx)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", mailbox.ControlName(mailbox.DeviceReady), err)
	}
	if w != mailbox.DeviceReady {
		return fmt.Errorf("expected %s, got %s", mailbox.ControlName(mailbox.DeviceReady), mailbox.ControlName(w))
	}
	log.Infof("%s is ready", s.dev.Variant().Name())
	return nil
}

func cmdBoot(ctx context.Context, s *session, _ []string) error {
	return waitReady(ctx, s)
}

func parseWords(args []string) ([]uint32, error) {
	var words []uint32
	for _, arg := range args {
		v, err := utils.ParseUint(arg, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid word %q: %w", arg, err)
		}
		words = append(words, uint32(v))
	}
	return words, nil
}

func cmdSend(ctx context.Context, s *session, args []string) error {
	words, err := parseWords(args)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return errors.New("no words to send")
	}
	for _, w := range words {
		if err := s.dev.SendControl(ctx, w); err != nil {
			return err
		}
		log.Debugf("sent %s", mailbox.ControlName(w))
	}
	return nil
}

func cmdRecv(ctx context.Context, s *session, args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := utils.ParseUint(args[0], 16)
		if err != nil || v == 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		n = int(v)
	}
	words, err := s.dev.RecvControlN(ctx, n)
	if err != nil {
		return err
	}
	for _, w := range words {
		fmt.Printf("%s\n", mailbox.ControlName(w))
	}
	return nil
}

func cmdPing(ctx context.Context, s *session, args []string) error {
	word := uint32(0xDEAD)
	if len(args) > 0 {
		words, err := parseWords(args[:1])
		if err != nil {
			return err
		}
		word = words[0]
	}

	if err := waitReady(ctx, s); err != nil {
		return err
	}

	start := time.Now()
	if err := s.dev.SendControl(ctx, word); err != nil {
		return err
	}
	reply, err := s.dev.RecvControl(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reply %s in %s\n", mailbox.ControlName(reply), time.Since(start))

	if err := s.dev.SendControl(ctx, mailbox.DeviceStop); err != nil {
		return err
	}
	done, err := s.dev.RecvControl(ctx)
	if err != nil {
		return err
	}
	if done != mailbox.DeviceDone {
		return fmt.Errorf("expected %s, got %s", mailbox.ControlName(mailbox.DeviceDone), mailbox.ControlName(done))
	}
	return nil
}

// cmdStats dumps the device metrics, the standard collectors are only
// registered for serving.
func cmdStats(_ context.Context, s *session, _ []string) error {
	g, err := s.reg.NewGatherer(
		metrics.WithNamespace(s.cfg.Metrics.Namespace),
		metrics.WithEnabled("heap", "mailbox", "lifecycle"),
	)
	if err != nil {
		return err
	}
	return g.Dump(os.Stdout)
}

func cmdServe(ctx context.Context, s *session, _ []string) error {
	if s.cfg.Metrics.Listen == "" {
		return errors.New("no metrics.listen address configured")
	}
	if err := collectors.Register(s.reg); err != nil {
		return err
	}
	g, err := s.reg.NewGatherer(
		metrics.WithNamespace(s.cfg.Metrics.Namespace),
		metrics.WithEnabled(s.cfg.Metrics.Enabled...),
	)
	if err != nil {
		return err
	}

	l, err := utils.Listen(s.cfg.Metrics.Listen)
	if err != nil {
		return err
	}

	health := healthz.NewChecker()
	if err := health.Register(s.dev.Variant().Name(), s.checkHealth); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	health.Setup(mux)

	if s.path != "" {
		go func() {
			err := config.Watch(ctx, s.path, func(cfg *config.Config) {
				if err := logger.Configure(&cfg.Log); err != nil {
					log.Errorf("failed to reconfigure logging: %v", err)
				}
			})
			if err != nil {
				log.Errorf("config watch failed: %v", err)
			}
		}()
	}

	log.Infof("serving metrics on %s", l.Addr())
	return utils.Serve(ctx, l, mux)
}

// checkHealth reports the device non-functional unless it runs, and
// degraded once a mailbox has stalled.
func (s *session) checkHealth() (healthz.Status, error) {
	st := s.dev.Stats()
	if st.State != lifecycle.Running {
		return healthz.NonFunctional, fmt.Errorf("device is %s", st.State)
	}
	for _, r := range st.Rings {
		if r.Stats.Warnings > 0 {
			return healthz.Degraded, fmt.Errorf("mailbox %s stalled %d times", r.Name, r.Stats.Warnings)
		}
	}
	return healthz.Healthy, nil
}
