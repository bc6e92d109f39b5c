package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/99designs/keyring"
)

const (
	keyringServiceName = "com.edukit.course-client"
	keyringDirectory   = "~/.course_client"
)

// Keyring is a Store backed by the OS-dependent credential store. Entries survive process exit,
// making this the long-lived half of the session storage pair.
type Keyring struct {
	config keyring.Config

	mu sync.Mutex
	kr keyring.Keyring
}

// NewKeyring returns a Keyring store. The namespace scopes entries so that multiple accounts (or
// tests) can coexist in the same credential store; it may be empty.
func NewKeyring(config keyring.Config, namespace string) *Keyring {
	if config.ServiceName == "" {
		config.ServiceName = keyringServiceName
	}
	if config.FileDir == "" {
		config.FileDir = keyringDirectory
	}
	if namespace != "" {
		config.ServiceName = config.ServiceName + "." + namespace
	}
	return &Keyring{config: config}
}

func (k *Keyring) open() (keyring.Keyring, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.kr != nil {
		return k.kr, nil
	}
	kr, err := keyring.Open(k.config)
	if err != nil {
		return nil, fmt.Errorf("could not open credential store: %s", err)
	}
	k.kr = kr
	return kr, nil
}

func (k *Keyring) Get(key string) (string, error) {
	kr, err := k.open()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("could not load %s: %s", key, err)
	}
	return string(item.Data), nil
}

func (k *Keyring) Set(key, value string) error {
	kr, err := k.open()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("failed to save %s in credential store: %s", key, err)
	}
	return nil
}

func (k *Keyring) Delete(key string) error {
	kr, err := k.open()
	if err != nil {
		return err
	}
	err = kr.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
