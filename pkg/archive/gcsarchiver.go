package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
)

// GCSArchiverConfig holds configuration for the GCS archive sink.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSArchiver writes terminal messages to Google Cloud Storage before they
// leave the active store. Messages are grouped by creation day and each group
// becomes one compressed JSONL object, so a day's archive is a flat listing
// under a single prefix.
type GCSArchiver struct {
	client GCSClient
	config GCSArchiverConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSArchiver creates an archiver writing to the configured bucket.
func NewGCSArchiver(
	gcsClient GCSClient,
	config GCSArchiverConfig,
	logger zerolog.Logger,
) (*GCSArchiver, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSArchiver").Logger(),
	}, nil
}

// UploadBatch groups the messages by creation day and uploads each group as a
// separate compressed object in parallel. Any group failure fails the batch;
// the caller defers archival and retries the whole set next cycle.
func (a *GCSArchiver) UploadBatch(ctx context.Context, msgs []courier.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	groups := make(map[string][]courier.Message)
	for _, msg := range msgs {
		day := msg.CreatedAt.UTC().Format("2006/01/02")
		groups[day] = append(groups[day], msg)
	}

	var uploadWg sync.WaitGroup
	errs := make(chan error, len(groups))

	for day, group := range groups {
		uploadWg.Add(1)
		a.wg.Add(1)

		go func(day string, group []courier.Message) {
			defer uploadWg.Done()
			defer a.wg.Done()
			if err := a.uploadGroup(ctx, day, group); err != nil {
				errs <- err
			}
		}(day, group)
	}

	uploadWg.Wait()
	close(errs)

	var combinedErr error
	for err := range errs {
		if combinedErr == nil {
			combinedErr = err
		} else {
			combinedErr = fmt.Errorf("%v; %w", combinedErr, err)
		}
	}
	return combinedErr
}

// uploadGroup streams one day's messages through gzip into a GCS object.
func (a *GCSArchiver) uploadGroup(ctx context.Context, day string, group []courier.Message) error {
	objectName := path.Join(a.config.ObjectPrefix, day, fmt.Sprintf("%s.jsonl.gz", uuid.NewString()))
	a.logger.Info().Str("object_name", objectName).Int("message_count", len(group)).Msg("Starting archive upload.")

	objHandle := a.client.Bucket(a.config.BucketName).Object(objectName)
	gcsWriter := objHandle.NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		defer func() { _ = gz.Close() }()
		enc := json.NewEncoder(gz)
		for _, msg := range group {
			if err = enc.Encode(msg); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
	}()

	bytesWritten, pipeReadErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()

	if pipeReadErr != nil {
		return fmt.Errorf("failed to stream archive object %s: %w", objectName, pipeReadErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close archive object writer for %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Int64("bytes_written", bytesWritten).
		Msg("Archive upload complete.")
	return nil
}

// Close waits for in-flight uploads to finish.
func (a *GCSArchiver) Close() error {
	a.wg.Wait()
	return nil
}
