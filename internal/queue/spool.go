package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/errors"
	"courier/pkg/models"
)

const (
	spoolSuffix   = ".msg"
	claimedSuffix = ".claimed"
)

// SpoolQueue persists each pending message as one file under
// <spool>/<queue>/. The filename carries the visibility time, so delayed
// entries simply stay on disk until their deadline; a restart rescans the
// directory and picks up where the previous process stopped.
type SpoolQueue struct {
	root   string
	logger logger.Logger
	wg     sync.WaitGroup

	mu       sync.Mutex
	scanning map[string]bool
}

func NewSpoolQueue(root string, log logger.Logger) (*SpoolQueue, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrQueue)
	}
	return &SpoolQueue{
		root:     root,
		logger:   log,
		scanning: make(map[string]bool),
	}, nil
}

func (q *SpoolQueue) dir(name string) string {
	return filepath.Join(q.root, name)
}

func (q *SpoolQueue) Enqueue(ctx context.Context, name string, env models.Envelope, opts EnqueueOptions) error {
	data, err := models.Encode(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}

	dir := q.dir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}

	visibleAt := time.Now().Add(opts.Delay)
	entry := fmt.Sprintf("%020d-%s%s", visibleAt.UnixNano(), uuid.New().String(), spoolSuffix)

	tmp := filepath.Join(dir, "."+entry+".tmp")
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}
	if err := os.Rename(tmp, filepath.Join(dir, entry)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrQueue)
	}
	return nil
}

func (q *SpoolQueue) Subscribe(ctx context.Context, name string, handler Handler, parallelism int) error {
	dir := q.dir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}

	work := make(chan string, parallelism)

	q.mu.Lock()
	already := q.scanning[name]
	q.scanning[name] = true
	q.mu.Unlock()
	if already {
		return errors.ErrQueue.WithMessage("queue %q already subscribed", name)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(work)
		q.scan(ctx, name, work)
	}()

	for i := 0; i < parallelism; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for path := range work {
				q.handleEntry(ctx, name, path, handler)
			}
		}()
	}

	return nil
}

// scan claims due entries by renaming them, which is atomic on POSIX
// filesystems, so concurrent scanners on a shared spool never double-feed.
func (q *SpoolQueue) scan(ctx context.Context, name string, work chan<- string) {
	ticker := time.NewTicker(constants.SpoolScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entries, err := os.ReadDir(q.dir(name))
		if err != nil {
			q.logger.Errorw("failed to scan spool directory",
				"queue", name,
				"error", err,
			)
			continue
		}

		now := time.Now().UnixNano()
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), spoolSuffix) {
				continue
			}

			visibleAt, ok := parseVisibleAt(entry.Name())
			if !ok || visibleAt > now {
				continue
			}

			path := filepath.Join(q.dir(name), entry.Name())
			claimed := path + claimedSuffix
			if err := os.Rename(path, claimed); err != nil {
				continue
			}

			select {
			case work <- claimed:
			case <-ctx.Done():
				// Unclaim so a later run sees it again.
				_ = os.Rename(claimed, path)
				return
			}
		}
	}
}

func (q *SpoolQueue) handleEntry(ctx context.Context, name, claimed string, handler Handler) {
	data, err := os.ReadFile(claimed)
	if err != nil {
		q.logger.Errorw("failed to read spool entry",
			"queue", name,
			"path", claimed,
			"error", err,
		)
		return
	}

	env, err := models.Decode(data)
	if err != nil {
		q.logger.Errorw("failed to decode spool entry, removing",
			"queue", name,
			"path", claimed,
			"error", err,
		)
		_ = os.Remove(claimed)
		return
	}

	if err := q.process(ctx, name, env, handler); err != nil {
		// Unclaim; the next scan retries it.
		_ = os.Rename(claimed, strings.TrimSuffix(claimed, claimedSuffix))
		return
	}

	if err := os.Remove(claimed); err != nil {
		q.logger.Errorw("failed to remove acknowledged spool entry",
			"queue", name,
			"path", claimed,
			"error", err,
		)
	}
}

func (q *SpoolQueue) process(ctx context.Context, name string, env models.Envelope, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			q.logger.Errorw("panic in queue handler",
				"queue", name,
				"message_id", env.ID,
				"error", err,
			)
		}
	}()
	return handler(ctx, env)
}

func parseVisibleAt(name string) (int64, bool) {
	i := strings.IndexByte(name, '-')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(name[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (q *SpoolQueue) Ping(ctx context.Context) error {
	if _, err := os.Stat(q.root); err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}
	return nil
}

func (q *SpoolQueue) Close() error {
	q.wg.Wait()
	return nil
}
