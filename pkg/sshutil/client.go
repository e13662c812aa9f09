package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyMode controls host key verification, mirroring OpenSSH's
// StrictHostKeyChecking values.
type HostKeyMode string

const (
	// HostKeyStrict rejects hosts missing from known_hosts.
	HostKeyStrict HostKeyMode = "yes"
	// HostKeyAcceptNew records unknown hosts and rejects changed keys.
	HostKeyAcceptNew HostKeyMode = "accept-new"
	// HostKeyIgnore skips verification entirely.
	HostKeyIgnore HostKeyMode = "no"
)

// ParseHostKeyMode validates a StrictHostKeyChecking value.
func ParseHostKeyMode(s string) (HostKeyMode, error) {
	switch mode := HostKeyMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case HostKeyStrict, HostKeyAcceptNew, HostKeyIgnore:
		return mode, nil
	case "":
		return HostKeyAcceptNew, nil
	default:
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown host key mode %q", s),
			"Use one of: yes, accept-new, no")
	}
}

// Options describe how to reach the appliance.
type Options struct {
	// Host is a hostname or ~/.ssh/config alias.
	Host string
	// FallbackIP is dialed when Host can't be reached. Empty or 0.0.0.0 disables it.
	FallbackIP string
	User       string
	Port       int
	// KeyPath is tried before the agent and the default identity files.
	KeyPath        string
	ConnectTimeout time.Duration
	HostKeyMode    HostKeyMode
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string
	// SSHConfigPath defaults to ~/.ssh/config.
	SSHConfigPath string
}

// HasFallback reports whether a usable fallback address is configured.
func (o Options) HasFallback() bool {
	return o.FallbackIP != "" && o.FallbackIP != "0.0.0.0" && o.FallbackIP != o.Host
}

func (o Options) knownHostsPath() string {
	if o.KnownHostsPath != "" {
		return expandPath(o.KnownHostsPath)
	}
	return filepath.Join(homeDir(), ".ssh", "known_hosts")
}

func (o Options) sshConfigPath() string {
	if o.SSHConfigPath != "" {
		return expandPath(o.SSHConfigPath)
	}
	return filepath.Join(homeDir(), ".ssh", "config")
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return 5 * time.Second
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The host or alias that was dialed
	Address string // The resolved address (host:port)
}

// matchWarningOnce ensures the SSH config Match directive warning is only shown once per process.
var matchWarningOnce sync.Once

// Dial connects to opts.Host, then to opts.FallbackIP if the first attempt fails.
// The error from the primary attempt is returned when there is no fallback.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	client, err := dialTarget(ctx, opts.Host, opts)
	if err == nil || !opts.HasFallback() {
		return client, err
	}

	logger.Default().Warn("ssh to %s failed, trying fallback %s: %s", opts.Host, opts.FallbackIP, errors.Describe(err))

	client, fbErr := dialTarget(ctx, opts.FallbackIP, opts)
	if fbErr != nil {
		return nil, errors.WrapWithCode(fbErr, errors.ErrSSH,
			fmt.Sprintf("Can't reach '%s' or its fallback %s", opts.Host, opts.FallbackIP),
			suggestionForDialError(fbErr))
	}
	return client, nil
}

func dialTarget(ctx context.Context, target string, opts Options) (*Client, error) {
	settings := resolveSSHSettings(target, opts)

	config, err := buildSSHConfig(settings, opts)
	if err != nil {
		// If buildSSHConfig already returned a structured error, pass it through
		var ntpErr *errors.Error
		if stderrors.As(err, &ntpErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Couldn't set up SSH for '%s'", target),
			"Check SSH_KEY and your agent: ssh-add -l")
	}

	timeout := opts.connectTimeout()
	address := settings.address()

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't reach '%s' at %s", target, address),
			suggestionForDialError(err))
	}

	// Bound the handshake; the deadline is cleared once the session is up.
	_ = conn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrSSH,
				hostKeyErr.Error(),
				hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", target),
			suggestionForHandshakeError(err, settings.encryptedKeys))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    target,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// sshSettings holds resolved SSH connection parameters.
type sshSettings struct {
	hostname      string
	port          string
	user          string
	identityFile  string
	encryptedKeys []string // Keys that exist but are encrypted
}

// address returns the host:port string for dialing.
func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSSHSettings starts from ~/.ssh/config for target, then applies the
// explicit options on top. A user@host or host:port target overrides both.
func resolveSSHSettings(target string, opts Options) *sshSettings {
	settings := &sshSettings{
		port: "22",
		user: currentUser(),
	}

	host := target
	explicitUser := ""
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		explicitUser = host[:atIdx]
		host = host[atIdx+1:]
	}

	explicitPort := ""
	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		if _, err := strconv.Atoi(host[colonIdx+1:]); err == nil {
			explicitPort = host[colonIdx+1:]
			host = host[:colonIdx]
		}
	}

	settings.hostname = host
	applySSHConfig(settings, host, opts.sshConfigPath())

	if opts.User != "" {
		settings.user = opts.User
	}
	if opts.Port > 0 {
		settings.port = strconv.Itoa(opts.Port)
	}
	if explicitUser != "" {
		settings.user = explicitUser
	}
	if explicitPort != "" {
		settings.port = explicitPort
	}

	return settings
}

func applySSHConfig(settings *sshSettings, host, configPath string) {
	// kevinburke/ssh_config doesn't support Match, so only the content before
	// the first Match block is parsed.
	content, matchLine, err := preprocessSSHConfig(configPath)
	if err != nil {
		return
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return
	}

	hostFound := false

	if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
		settings.hostname = hostname
		hostFound = true
	}
	if port, _ := cfg.Get(host, "Port"); port != "" {
		settings.port = port
		hostFound = true
	}
	if user, _ := cfg.Get(host, "User"); user != "" {
		settings.user = user
		hostFound = true
	}
	if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" {
		settings.identityFile = expandPath(identity)
		hostFound = true
	}

	if matchLine > 0 && !hostFound {
		matchWarningOnce.Do(func() {
			logger.Default().Warn(
				"host '%s' not found in SSH config (a Match block at line %d may hide later entries)",
				host, matchLine)
		})
	}
}

// buildSSHConfig creates an SSH client config with authentication methods.
// It also populates settings.encryptedKeys with any keys that exist but are encrypted.
func buildSSHConfig(settings *sshSettings, opts Options) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	tryKeyFile := func(keyPath string) error {
		keyAuth, err := keyFileAuth(keyPath)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.encryptedKeys = append(settings.encryptedKeys, keyPath)
			}
			return err
		}
		authMethods = append(authMethods, keyAuth)
		return nil
	}

	// An explicitly configured key must load; silently falling back would
	// authenticate as someone else.
	if opts.KeyPath != "" {
		if err := tryKeyFile(expandPath(opts.KeyPath)); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't load SSH key %s", opts.KeyPath),
				"Check SSH_KEY points at an unencrypted private key readable by this user.")
		}
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if settings.identityFile != "" && settings.identityFile != expandPath(opts.KeyPath) {
		_ = tryKeyFile(settings.identityFile)
	}

	defaultKeys := []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
	for _, keyPath := range defaultKeys {
		if keyPath == settings.identityFile || keyPath == expandPath(opts.KeyPath) {
			continue
		}
		_ = tryKeyFile(keyPath)
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Set SSH_KEY or load a key into the agent: ssh-add -l"

		if len(settings.encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.encryptedKeys, ", "))
			suggestion = encryptedKeysSuggestion(settings.encryptedKeys)
		}

		return nil, errors.New(errors.ErrSSH, msg, suggestion)
	}

	hostKeyCallback, err := hostKeyCallbackFor(opts.HostKeyMode, opts.knownHostsPath())
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.connectTimeout(),
	}, nil
}

func hostKeyCallbackFor(mode HostKeyMode, knownHostsPath string) (ssh.HostKeyCallback, error) {
	switch mode {
	case HostKeyIgnore:
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly configured
	case HostKeyStrict:
		return createHostKeyCallback(knownHostsPath, false)
	default:
		return createHostKeyCallback(knownHostsPath, true)
	}
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Is sshd running on the appliance?"
	case strings.Contains(errStr, "no route to host"), strings.Contains(errStr, "network is unreachable"):
		return "Can't route to the appliance. Check the network path and NTP_IP."
	case strings.Contains(errStr, "timeout"):
		return "Connection timed out. The appliance might be offline or firewalled."
	case strings.Contains(errStr, "no such host"):
		return "The hostname didn't resolve. Set NTP_IP so the fallback address is used."
	default:
		return "Make sure the appliance is reachable: ping <host>"
	}
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		if len(encryptedKeys) > 0 {
			return encryptedKeysSuggestion(encryptedKeys)
		}
		return "Auth failed. Check SSH_USER and SSH_KEY."
	}
	if strings.Contains(errStr, "host key") || strings.Contains(errStr, "knownhosts") {
		return "Host key issue. Connect once manually: ssh <host>"
	}
	return "Something went wrong during SSH setup. Try: ssh -v <host>"
}

func encryptedKeysSuggestion(keys []string) string {
	var sb strings.Builder
	sb.WriteString("Passphrase-protected keys need an agent:\n")
	for _, key := range keys {
		sb.WriteString(fmt.Sprintf("  ssh-add %s\n", key))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The appliance's host key doesn't match known_hosts (known: %s, sent: %s).\n"+
			"  If the appliance was reinstalled, remove the old entry:\n"+
			"    ssh-keygen -f %s -R %s",
		wantStr, e.ReceivedType, e.KnownHosts, host)
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// knownHostsMu serializes appends to known_hosts within this process.
var knownHostsMu sync.Mutex

// createHostKeyCallback verifies keys against knownHostsPath. With acceptNew,
// hosts that have no entry at all are appended instead of rejected; a changed
// key is always an error.
func createHostKeyCallback(knownHostsPath string, acceptNew bool) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0o700); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to create the known_hosts directory", "")
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0o600); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to create known_hosts", "")
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Failed to load %s", knownHostsPath),
			"Fix or remove the malformed line.")
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !stderrors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Hostname:     hostname,
				ReceivedType: key.Type(),
				KnownHosts:   knownHostsPath,
				Want:         keyErr.Want,
			}
		}
		if !acceptNew {
			return err
		}
		return appendKnownHost(knownHostsPath, hostname, key)
	}, nil
}

func appendKnownHost(knownHostsPath, hostname string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}

	logger.Default().Info("added %s key for %s to %s", key.Type(), hostname, knownHostsPath)
	return nil
}
