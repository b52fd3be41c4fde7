package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/execute"
)

// psEntry is one container in the runtime's JSON listing (one object per
// output line).
type psEntry struct {
	ID    string `json:"ID"`
	Names string `json:"Names"`
}

// Discover finds a running container by exact name across an ordered
// namespace list and returns a Client bound to it. The full sweep is
// retried with a fixed backoff up to the configured attempt bound; a
// listing failure in one namespace only skips that namespace.
func Discover(ctx context.Context, cfg Config, namespaces []string, name string, log *zap.Logger) (*Client, error) {
	c := New(cfg, log)
	if err := c.discover(ctx, namespaces, name); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) discover(ctx context.Context, namespaces []string, name string) error {
	if len(namespaces) == 0 {
		return errors.New("no namespaces configured")
	}

	var id, ns string
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.DiscoverBackoff), uint64(c.cfg.DiscoverRetries-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		var err error
		id, ns, err = c.findContainer(ctx, namespaces, name)
		if err != nil {
			c.log.Info("container not found, retrying", zap.String("name", name), zap.Error(err))
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("no container named %q in namespaces %v: %w", name, namespaces, err)
	}

	c.cfg.ContainerID = id
	c.cfg.Namespace = ns
	c.log.Info("discovered container",
		zap.String("name", name),
		zap.String("id", id),
		zap.String("namespace", ns))
	return nil
}

// findContainer performs one sweep over the namespaces, in order, and
// returns the first exact name match.
func (c *Client) findContainer(ctx context.Context, namespaces []string, name string) (string, string, error) {
	for _, ns := range namespaces {
		argv := []string{c.cfg.Executable, "-n", ns, "ps", "--format", "json"}
		res := c.run.Execute(ctx, execute.Request{Argv: argv})
		if !res.OK() {
			c.log.Debug("container listing failed",
				zap.String("namespace", ns), zap.Int("exit", res.ExitCode))
			continue
		}
		for _, line := range strings.Split(res.Stdout, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var entry psEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			if entry.Names == name {
				return entry.ID, ns, nil
			}
		}
	}
	return "", "", fmt.Errorf("no match for %q", name)
}

// FleetScopedName returns the full name the runtime reports for a
// pod-scoped container: k8s://<pod namespace>/<pod>/<container>. It
// requires the POD_NAME and POD_NAMESPACE environment variables.
func FleetScopedName(container string) (string, error) {
	pod := os.Getenv("POD_NAME")
	ns := os.Getenv("POD_NAMESPACE")
	if pod == "" || ns == "" {
		return "", errors.New("POD_NAME and POD_NAMESPACE must be set")
	}
	return fmt.Sprintf("k8s://%s/%s/%s", ns, pod, container), nil
}
