package strfry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

const defaultDeleteTimeout = 30 * time.Second

// Client shells out to the strfry binary to remove already-stored events,
// used when an author enters the deny list after posting.
type Client struct {
	executablePath string
	configPath     string
	deleteTimeout  time.Duration
}

func NewClient(executablePath, configPath string, deleteTimeout time.Duration) *Client {
	if deleteTimeout <= 0 {
		deleteTimeout = defaultDeleteTimeout
	}
	return &Client{
		executablePath: executablePath,
		configPath:     configPath,
		deleteTimeout:  deleteTimeout,
	}
}

// DeleteEventsByAuthor runs `strfry delete` with an author filter.
func (c *Client) DeleteEventsByAuthor(ctx context.Context, author string) error {
	ctx, cancel := context.WithTimeout(ctx, c.deleteTimeout)
	defer cancel()

	filter, err := json.Marshal(map[string][]string{"authors": {author}})
	if err != nil {
		return fmt.Errorf("encoding delete filter: %w", err)
	}
	args := []string{
		"--config=" + c.configPath,
		"delete",
		"--filter=" + string(filter),
	}

	cmd := exec.CommandContext(ctx, c.executablePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Info("Executing strfry delete", "author", author)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("strfry delete command failed: %w, stderr: %s", err, stderr.String())
	}

	slog.Info("Deleted stored events for author", "author", author)
	return nil
}
