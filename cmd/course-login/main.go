// Utility for logging in to the course platform and storing the session

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/edukit/course-client/internal/log"
	"github.com/edukit/course-client/pkg/cli"
	"github.com/edukit/course-client/pkg/session"
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [-email address] [-remember]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Logs in to the course platform and stores the session. With -remember the")
	fmt.Fprintln(w, "session is saved in the system keyring and restored by later invocations;")
	fmt.Fprintln(w, "without it the session lasts for this process only.")
}

func main() {
	returnCode := 1
	defer func() {
		os.Exit(returnCode)
	}()

	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	config, err := cli.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}

	var (
		email    string
		remember bool
		debug    bool
		timeout  time.Duration
	)
	flag.StringVar(&email, "email", "", "Account email `address`")
	flag.BoolVar(&remember, "remember", false, "Save the session in the system keyring")
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Set timeout for the login request.")
	config.RegisterCommandLineFlags()
	flag.Usage = usage
	flag.Parse()
	config.ReadFromEnvironment()
	if debug {
		log.SetLevel(log.LevelDebug)
	}

	manager, err := config.SessionManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}

	if email == "" {
		fmt.Printf("Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading email: %s\n", err)
			return
		}
		email = strings.TrimSpace(line)
	}
	password, err := cli.ReadPassword("Password")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	profile, err := manager.Login(ctx, session.Credentials{
		Email:      email,
		Password:   password,
		RememberMe: remember,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Login failed: %s\n", err)
		return
	}

	fmt.Printf("Logged in as %s <%s> (%s)\n", profile.Name, profile.Email, profile.Role)
	if meta, err := session.ParseTokenMetadata(manager.Token()); err == nil && !meta.ExpiresAt.IsZero() {
		fmt.Printf("Session token expires %s\n", meta.ExpiresAt.Local().Format(time.RFC1123))
	}
	returnCode = 0
}
