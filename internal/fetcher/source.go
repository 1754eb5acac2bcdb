package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"checkengine/internal/model"
	"checkengine/internal/piggyback"
)

// ErrEmptyOutput is returned when a source answered without any data.
var ErrEmptyOutput = errors.New("empty output")

// Source fetches the raw data of one configured data source.
type Source interface {
	Info() model.SourceInfo
	Fetch(ctx context.Context) ([]byte, error)
}

// AgentTransport queries pull agents. Implemented by *agent.Client.
type AgentTransport interface {
	Fetch(ctx context.Context, ip string) ([]byte, error)
}

// SNMPBackend performs the SNMP queries of a host and renders them as section tables.
type SNMPBackend interface {
	Walk(ctx context.Context, host model.HostName, ip string) ([]byte, error)
}

// =============================================================================
// Agent
// =============================================================================

type agentSource struct {
	info      model.SourceInfo
	transport AgentTransport
}

func (s *agentSource) Info() model.SourceInfo { return s.info }

func (s *agentSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := s.transport.Fetch(ctx, s.info.IPAddress)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyOutput
	}
	return data, nil
}

// =============================================================================
// Programs (data source programs, special agents, IPMI)
// =============================================================================

// PasswordLookup resolves password store identifiers.
type PasswordLookup func(id string) (string, bool)

var passwordMacro = regexp.MustCompile(`\$PASSWORD:([^$]+)\$`)

// ExpandCommand substitutes the host macros and password references of a command line.
func ExpandCommand(command string, info model.SourceInfo, passwords PasswordLookup) (string, error) {
	var missing []string
	expanded := passwordMacro.ReplaceAllStringFunc(command, func(m string) string {
		id := passwordMacro.FindStringSubmatch(m)[1]
		if passwords != nil {
			if secret, ok := passwords(id); ok {
				return secret
			}
		}
		missing = append(missing, id)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown password id(s): %s", strings.Join(missing, ", "))
	}
	return strings.NewReplacer(
		"$HOSTNAME$", info.HostName,
		"$HOSTADDRESS$", info.IPAddress,
	).Replace(expanded), nil
}

type programSource struct {
	info      model.SourceInfo
	command   string
	timeout   time.Duration
	passwords PasswordLookup
}

func (s *programSource) Info() model.SourceInfo { return s.info }

func (s *programSource) Fetch(ctx context.Context) ([]byte, error) {
	command, err := ExpandCommand(s.command, s.info, s.passwords)
	if err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(), "REMOTE="+s.info.IPAddress, "HOSTNAME="+s.info.HostName)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("program timed out after %s: %w", s.timeout, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("program exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("failed to execute program: %w", err)
	}
	if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		return nil, ErrEmptyOutput
	}
	return stdout.Bytes(), nil
}

// =============================================================================
// Piggyback
// =============================================================================

type piggybackSource struct {
	info   model.SourceInfo
	store  *piggyback.Store
	maxAge time.Duration
}

func (s *piggybackSource) Info() model.SourceInfo { return s.info }

// Fetch concatenates the valid piggyback data of all source hosts. Having no data is
// not an error; the summarizer reports it.
func (s *piggybackSource) Fetch(_ context.Context) ([]byte, error) {
	entries, err := s.store.Read(s.info.HostName, s.maxAge)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, e := range entries {
		if e.Meta.Valid {
			buf.Write(e.Data)
		}
	}
	return buf.Bytes(), nil
}

// =============================================================================
// SNMP
// =============================================================================

type snmpSource struct {
	info    model.SourceInfo
	backend SNMPBackend
}

func (s *snmpSource) Info() model.SourceInfo { return s.info }

func (s *snmpSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.backend == nil {
		return nil, errors.New("no SNMP backend configured")
	}
	return s.backend.Walk(ctx, s.info.HostName, s.info.IPAddress)
}

// StoredWalks is an SNMPBackend reading previously recorded walks from
// <dir>/<host>.json.
type StoredWalks struct {
	Dir string
}

// Walk implements SNMPBackend.
func (w StoredWalks) Walk(_ context.Context, host model.HostName, _ string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(w.Dir, filepath.Base(host)+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read stored walk of %s: %w", host, err)
	}
	return data, nil
}

// =============================================================================
// Failing source
// =============================================================================

// failedSource yields a fixed error, e.g. when the IP address of its host is unknown.
type failedSource struct {
	info model.SourceInfo
	err  error
}

func (s *failedSource) Info() model.SourceInfo { return s.info }

func (s *failedSource) Fetch(context.Context) ([]byte, error) { return nil, s.err }
