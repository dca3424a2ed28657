package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"floaagent/pkg/logging"
)

// SpoolPlayer hands fragments to an external renderer by writing them, in
// play order, into a spool directory. Decode and actual output live outside
// the daemon; the spool preserves the queue's ordering guarantee.
type SpoolPlayer struct {
	dir    string
	logger logging.Logger
	seq    atomic.Uint64
}

// NewSpoolPlayer creates the spool directory if needed.
func NewSpoolPlayer(dir string, logger logging.Logger) (*SpoolPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio spool dir: %w", err)
	}
	return &SpoolPlayer{dir: dir, logger: logger}, nil
}

// Play writes one fragment. The sequence number in the filename is the play
// order, which is what the renderer consumes in.
func (p *SpoolPlayer) Play(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq := p.seq.Add(1)
	name := fmt.Sprintf("fragment-%d-%06d.bin", time.Now().UnixMilli(), seq)
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to spool fragment: %w", err)
	}
	p.logger.WithField("fragment", name).Debug("Spooled audio fragment")
	return nil
}
