// Package result turns a structured result into durable task output.
package result

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapequeue/internal/format"
	"github.com/JakeFAU/scrapequeue/internal/storage/local"
	"github.com/JakeFAU/scrapequeue/internal/task"
)

// FileName is the canonical result file written into every workspace.
const FileName = "result.json"

const baseName = "result"

// Target is where a task's files are written.
type Target interface {
	Name() string
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Config controls the optional outputs.
type Config struct {
	RunID string
	// Echo receives one JSON line per completed task when set.
	Echo io.Writer
	// Converter produces result.<ext> when set.
	Converter format.Converter
}

// Options carries optional collaborators.
type Options struct {
	Mirror    task.BlobStore
	Publisher task.Publisher
	Hasher    task.Hasher
	Logger    *zap.Logger
}

// Summary carries capture counts into the completion notification.
type Summary struct {
	Captured int
	Failed   int
}

// Notification is the payload published after a result is written.
type Notification struct {
	RunID     string `json:"run_id"`
	Task      int    `json:"task"`
	URL       string `json:"url"`
	Workspace string `json:"workspace"`
	ResultURI string `json:"result_uri"`
	Hash      string `json:"hash,omitempty"`
	Captured  int    `json:"captured"`
	Failed    int    `json:"failed"`
}

// Writer writes results. Echo lines from concurrent callers never interleave.
type Writer struct {
	cfg       Config
	mirror    task.BlobStore
	publisher task.Publisher
	hasher    task.Hasher
	logger    *zap.Logger

	echoMu sync.Mutex
}

// New constructs a Writer.
func New(cfg Config, opts Options) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		cfg:       cfg,
		mirror:    opts.Mirror,
		publisher: opts.Publisher,
		hasher:    opts.Hasher,
		logger:    logger.Named("result"),
	}
}

// Encode renders structured as canonical JSON: sorted keys, no HTML
// escaping, one trailing newline.
func Encode(structured map[string]task.Field) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if structured == nil {
		structured = map[string]task.Field{}
	}
	if err := enc.Encode(structured); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores the canonical result in ws and then runs the optional echo,
// conversion, mirror, and notification steps. Only a failure to write the
// canonical file is returned; optional step failures are logged.
func (w *Writer) Write(
	ctx context.Context,
	item task.WorkItem,
	ws Target,
	structured map[string]task.Field,
	sum Summary,
) (task.Artifact, error) {
	logger := w.logger.With(zap.Int("task", item.Ordinal()), zap.String("url", item.Identifier))

	data, err := Encode(structured)
	if err != nil {
		return task.Artifact{}, err
	}
	resultPath, err := ws.Put(ctx, FileName, "application/json", data)
	if err != nil {
		return task.Artifact{}, fmt.Errorf("write result: %w", err)
	}
	artifact := task.Artifact{ResultPath: resultPath}

	if w.hasher != nil {
		if artifact.Hash, err = w.hasher.Hash(data); err != nil {
			logger.Warn("hash result failed", zap.Error(err))
		}
	}

	if w.cfg.Echo != nil {
		if err := w.echo(data); err != nil {
			logger.Error("echo result failed", zap.Error(err))
		}
	}

	if w.cfg.Converter != nil {
		artifact.ConvertedPath, err = w.convert(ctx, ws, structured)
		if err != nil {
			logger.Error("convert result failed", zap.String("format", w.cfg.Converter.Name()), zap.Error(err))
		}
	}

	if w.mirror != nil {
		key := path.Join(w.cfg.RunID, ws.Name(), FileName)
		artifact.MirrorURI, err = w.mirror.PutObject(ctx, key, "application/json", bytes.NewReader(data))
		if err != nil {
			logger.Error("mirror result failed", zap.String("key", key), zap.Error(err))
		}
	}

	if w.publisher != nil {
		uri := artifact.MirrorURI
		if uri == "" {
			if uri, err = local.FileURI(artifact.ResultPath); err != nil {
				logger.Warn("build result uri failed", zap.String("path", artifact.ResultPath), zap.Error(err))
			}
		}
		note := Notification{
			RunID:     w.cfg.RunID,
			Task:      item.Ordinal(),
			URL:       item.Identifier,
			Workspace: ws.Name(),
			ResultURI: uri,
			Hash:      artifact.Hash,
			Captured:  sum.Captured,
			Failed:    sum.Failed,
		}
		artifact.MessageID, err = w.publisher.Publish(ctx, note)
		if err != nil {
			logger.Error("publish notification failed", zap.Error(err))
		}
	}

	logger.Debug("result written",
		zap.String("path", artifact.ResultPath),
		zap.String("converted", artifact.ConvertedPath),
		zap.String("mirror", artifact.MirrorURI),
		zap.String("hash", artifact.Hash),
	)
	return artifact, nil
}

func (w *Writer) echo(line []byte) error {
	w.echoMu.Lock()
	defer w.echoMu.Unlock()
	if _, err := w.cfg.Echo.Write(line); err != nil {
		return fmt.Errorf("write echo line: %w", err)
	}
	return nil
}

func (w *Writer) convert(ctx context.Context, ws Target, structured map[string]task.Field) (string, error) {
	c := w.cfg.Converter
	out, err := c.Convert(structured)
	if err != nil {
		return "", fmt.Errorf("convert to %s: %w", c.Name(), err)
	}
	p, err := ws.Put(ctx, baseName+"."+c.Extension(), c.ContentType(), out)
	if err != nil {
		return "", fmt.Errorf("write converted result: %w", err)
	}
	return p, nil
}
