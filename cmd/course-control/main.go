package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"

	"github.com/edukit/course-client/internal/log"
	"github.com/edukit/course-client/pkg/cli"
	"github.com/edukit/course-client/pkg/client"
	"github.com/edukit/course-client/pkg/coursecache"
	"github.com/edukit/course-client/pkg/session"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Course and video commands require a logged-in session. Run course-login first, or set
   $COURSE_ACCOUNT to a session saved with -remember.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(manager *session.Manager, courses *coursecache.Cache, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, manager, courses, args); err != nil {
		if errors.Is(err, client.ErrSessionExpired) {
			writeErr("Session expired. Run course-login to log in again.")
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(manager *session.Manager, courses *coursecache.Cache, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		runCommand(manager, courses, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	var (
		debug          bool
		commandTimeout time.Duration
	)
	config, err := cli.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.DurationVar(&commandTimeout, "command-timeout", 30*time.Second, "Set timeout for commands sent to the server.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	if !debug {
		if debugEnv, ok := os.LookupEnv("COURSE_VERBOSE"); ok {
			debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}
	config.ReadFromEnvironment()

	args := flag.Args()
	if len(args) > 0 && args[0] == "help" {
		if len(args) == 1 {
			Usage()
			status = 0
			return
		}
		info, ok := commands[args[1]]
		if !ok {
			writeErr("Unrecognized command: %s", args[1])
			return
		}
		info.Usage(args[1])
		status = 0
		return
	}

	manager, err := config.SessionManager()
	if err != nil {
		writeErr("Error: %s", err)
		return
	}
	courses := config.Cache(manager)

	if flag.NArg() > 0 {
		status = runCommand(manager, courses, flag.Args(), commandTimeout)
	} else {
		status = runInteractiveShell(manager, courses, commandTimeout)
	}
}
