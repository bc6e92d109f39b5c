/*
Package cli facilitates building command-line applications that talk to the course platform. It
defines a [Config] type that can be used to register common command-line flags (using the Golang
flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing the session's bearer token
and serialized user profile in an OS-dependent credential store.

# Examples

	config, err := cli.NewConfig()
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for host, credential store, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables

	manager, err := config.SessionManager() // Rehydrates any stored session.
	if err != nil {
		panic(err)
	}
	courses := config.Cache(manager) // Authenticated course cache, ready for requests.
*/
package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/edukit/course-client/internal/log"
	"github.com/edukit/course-client/pkg/client"
	"github.com/edukit/course-client/pkg/coursecache"
	"github.com/edukit/course-client/pkg/session"
	"github.com/edukit/course-client/pkg/storage"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvHost         = "COURSE_HOST"
	EnvAccount      = "COURSE_ACCOUNT"
	EnvKeyringType  = "COURSE_KEYRING_TYPE"
	EnvKeyringPass  = "COURSE_KEYRING_PASSWORD"
	EnvKeyringPath  = "COURSE_KEYRING_PATH"
	EnvKeyringDebug = "COURSE_KEYRING_DEBUG"
)

const defaultHost = "http://localhost:3000"

// Config fields determine how a client reaches the course platform and where session credentials
// are durably stored.
type Config struct {
	Host    string
	Account string // Scopes credential-store entries; lets multiple accounts coexist.
	Backend keyring.Config
	// BackendType restricts the credential store to a single keyring backend.
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password *string
	manager  *session.Manager
}

func NewConfig() (*Config, error) {
	c := Config{
		Backend: keyring.Config{
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword
	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	flag.StringVar(&c.Host, "host", "", "Course platform `URL`. Defaults to $COURSE_HOST.")
	flag.StringVar(&c.Account, "account", "", "Credential store `name` for the session. Defaults to $COURSE_ACCOUNT.")
	var names []string
	for _, name := range keyring.AvailableBackends() {
		names = append(names, string(name))
	}
	sort.Strings(names)
	flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $COURSE_KEYRING_TYPE.")
	flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types")
	flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent
// the environment from overriding explicit command-line parameters.
func (c *Config) ReadFromEnvironment() {
	if c.Host == "" {
		c.Host = os.Getenv(EnvHost)
		log.Debug("Set host to '%s'", c.Host)
	}
	if c.Account == "" {
		c.Account = os.Getenv(EnvAccount)
		log.Debug("Set account to '%s'", c.Account)
	}
	if c.BackendType.String() == string(keyring.InvalidBackend) {
		if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
			log.Debug("Set keyring type to '%s'", c.BackendType)
		}
	}
	if c.password == nil {
		password := os.Getenv(EnvKeyringPass)
		c.password = &password
		if len(password) > 0 {
			log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
		}
	}
	if c.Backend.FileDir == "" {
		c.Backend.FileDir = os.Getenv(EnvKeyringPath)
		log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
	}
	if !c.Debug {
		_, c.Debug = os.LookupEnv(EnvKeyringDebug)
		log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
	}
}

// SessionManager assembles a session manager backed by the configured credential store and
// rehydrates any stored session. The manager is cached; subsequent calls return the same one.
func (c *Config) SessionManager() (*session.Manager, error) {
	if c.manager != nil {
		return c.manager, nil
	}
	if c.Host == "" {
		c.Host = defaultHost
	}
	keyring.Debug = c.Debug
	manager := session.NewManager(c.Host, storage.NewKeyring(c.Backend, c.Account), storage.NewMemory())
	if err := manager.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to restore session: %s", err)
	}
	c.manager = manager
	return manager, nil
}

// Client returns an authenticated requestor bound to manager's session.
func (c *Config) Client(manager *session.Manager) *client.Client {
	return client.New(manager.Host, manager)
}

// Cache returns a course cache whose requests authenticate against manager's session.
func (c *Config) Cache(manager *session.Manager) *coursecache.Cache {
	return coursecache.New(c.Client(manager))
}

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}
