package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/rcrowley/go-metrics"

	"github.com/memcashew/memcashew"
	"github.com/memcashew/memcashew/cache"
	"github.com/memcashew/memcashew/executor"
	"github.com/memcashew/memcashew/internal/tag"
	"github.com/memcashew/memcashew/log"
)

const usage = `memcashew usage:
  -i IP address of the listening socket. Defaults to 127.0.0.1
  -p Port. Defaults to 11211
  -t Processing threads (cache lookups). Defaults to number of cores and then to 8.
  -m Max cache memory in MB. Defaults to 64
  -l Log file path. Defaults to stderr.
  -v Log level: debug, info, warn, error, fatal. Defaults to info.
`

func main() {
	flags := flag.NewFlagSet("memcashew", flag.ExitOnError)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	var (
		ip        = flags.String("i", "127.0.0.1", "listen address")
		port      = flags.Int("p", 11211, "TCP port")
		threads   = flags.Int("t", 0, "number of executors")
		megabytes = flags.Int64("m", 64, "cache capacity in MB")
		logFile   = flags.String("l", "", "log file; stderr when empty")
		logLevel  = flags.String("v", "info", "log level")
	)
	flags.Parse(os.Args[1:])

	level, err := log.LevelFromString(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
		os.Exit(2)
	}
	if *megabytes <= 0 {
		flags.Usage()
		os.Exit(2)
	}
	w := io.Writer(os.Stderr)
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "log file open error:", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	l := log.NewLogger(level, w)
	if tag.Debug {
		l.Warn("Using debug build. It has more runtime checks and large performance overhead.")
	}
	if *threads <= 0 {
		*threads = defaultThreads()
	}

	registry := metrics.NewRegistry()
	c := cache.NewCache(l, cache.Config{
		Capacity: *megabytes << 20,
		Registry: registry,
	})
	pool := executor.NewPool(*threads, l)
	s := &memcashew.Server{
		Addr:     net.JoinHostPort(*ip, strconv.Itoa(*port)),
		Cache:    c,
		Pool:     pool,
		Log:      l,
		Registry: registry,
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		l.Info("Shutting down.")
		s.Stop()
	}()

	l.Infof("Listening on %s, executors: %v, memory limit: %vMB, max connections: %v.",
		s.Addr, *threads, *megabytes, memcashew.DefaultMaxConnections)
	if err := s.ListenAndServe(); err != nil {
		l.Fatal("Serve error: ", err)
	}
}

func defaultThreads() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 8
}
