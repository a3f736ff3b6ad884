package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"

	"github.com/Jon-Bright/pllctl/zynq"
)

const usage = `usage: pllctl [-sim] [-dump] [-mem FILE] [-lockbit BIT] [-polls N]
              [-timeout DURATION] [-delay DURATION|lfsr] [FDIV:CDIV]...

Reprograms the Zynq ARM PLL and CPU clock divider for each FDIV:CDIV pair in
turn, or for the built-in test set if none are given.

	-sim      use a simulated register file instead of -mem
	-dump     print the clock registers after each change
	-mem      physical memory device (default /dev/mem)
	-lockbit  ARM_PLL_STATUS bit that signals lock (default 0)
	-polls    maximum status reads while waiting for lock (default 2000,
	          about 2s)
	-timeout  maximum time for one reconfiguration (default 5s)
	-delay    wait between tests, or lfsr for 1-2s from the PL counter
	          (default lfsr)`

const (
	// Status reads before the simulated PLL locks.
	simLockAfter = 3

	defaultTimeout = 5 * time.Second
)

type options struct {
	sim      bool
	dump     bool
	mem      string
	lockBit  uint
	maxPolls int
	timeout  time.Duration
	delay    string
}

func parseOptions(args []string) (*options, []string, error) {
	flag, args := flags.New(args, "-sim", "-dump")
	parm, args := parms.New(args, "-mem", "-lockbit", "-polls", "-timeout", "-delay")
	defaults := map[string]string{
		"-mem":     zynq.MEM_FILE,
		"-lockbit": strconv.Itoa(zynq.PLL_STATUS_LOCK_BIT),
		"-polls":   strconv.Itoa(zynq.DEFAULT_MAX_POLLS),
		"-timeout": defaultTimeout.String(),
		"-delay":   "lfsr",
	}
	for k, v := range defaults {
		if len(parm.ByName[k]) == 0 {
			parm.ByName[k] = v
		}
	}

	o := &options{
		sim:   flag.ByName["-sim"],
		dump:  flag.ByName["-dump"],
		mem:   parm.ByName["-mem"],
		delay: parm.ByName["-delay"],
	}
	lb, err := strconv.ParseUint(parm.ByName["-lockbit"], 0, 5)
	if err != nil {
		return nil, nil, fmt.Errorf("-lockbit %s: %v", parm.ByName["-lockbit"], err)
	}
	o.lockBit = uint(lb)
	o.maxPolls, err = strconv.Atoi(parm.ByName["-polls"])
	if err != nil || o.maxPolls < 1 {
		return nil, nil, fmt.Errorf("-polls %s: must be a positive number", parm.ByName["-polls"])
	}
	o.timeout, err = time.ParseDuration(parm.ByName["-timeout"])
	if err != nil {
		return nil, nil, fmt.Errorf("-timeout %s: %v", parm.ByName["-timeout"], err)
	}
	return o, args, nil
}

func run(args []string, w io.Writer) error {
	o, args, err := parseOptions(args)
	if err != nil {
		return fmt.Errorf("%v\n%s", err, usage)
	}
	vs, err := parseVectors(args)
	if err != nil {
		return fmt.Errorf("%v\n%s", err, usage)
	}

	var mem zynq.Memory
	if o.sim {
		sim := zynq.NewSimMemory()
		sim.LockAfter = simLockAfter
		sim.LockBit = o.lockBit
		mem = sim
	} else {
		dm := zynq.NewDevMem(o.mem)
		defer dm.Close() // Ignore error
		mem = dm
	}
	delay, err := parseDelay(o.delay, mem)
	if err != nil {
		return fmt.Errorf("%v\n%s", err, usage)
	}

	pll := zynq.NewPLL(mem)
	pll.LockBit = o.lockBit
	pll.MaxPolls = o.maxPolls

	for i, v := range vs {
		fmt.Fprintf(w, "Test %d with PLL divider %d and clock divider %d: %d MHz\n", i+1, v.fdiv, v.cdiv, v.MHz())
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		start := time.Now()
		err = pll.Reconfigure(ctx, v.fdiv, v.cdiv)
		cancel()
		if err != nil {
			return fmt.Errorf("test %d (%v) failed: %w", i+1, v, err)
		}
		log.Printf("Reconfigured to %v in %v", v, time.Since(start))
		if o.dump {
			st, err := pll.State()
			if err != nil {
				return fmt.Errorf("test %d (%v): couldn't read state: %w", i+1, v, err)
			}
			fmt.Fprintf(w, "%v\n", st)
		}
		d, err := delay()
		if err != nil {
			return fmt.Errorf("test %d (%v): %w", i+1, v, err)
		}
		if d > 0 {
			fmt.Fprintf(w, "Waiting for %v\n", d)
			time.Sleep(d)
		}
	}
	return nil
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Failed: %v", err)
	}
}
