// Package archive keeps a copy of every frame a stage emits in Google Cloud
// Storage before handing it on to the bus.
package archive

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const unidentified = "unidentified"

var (
	registerOnce sync.Once

	archiveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "archive",
		Name:      "upload_failures_total",
		Help:      "Frames that could not be written to the archive bucket.",
	})
)

// Config holds configuration for the FrameArchiver.
type Config struct {
	BucketName   string
	ObjectPrefix string
	// ArchiveAll archives every message, not only batched frames.
	ArchiveAll bool
}

// FrameArchiver is a messagepipeline.Publisher that writes each frame to an
// object store and then forwards it to the next publisher. An archive failure
// is logged and counted; it never blocks delivery.
type FrameArchiver struct {
	store  ObjectStore
	next   messagepipeline.Publisher
	config Config
	logger zerolog.Logger
}

// NewFrameArchiver wraps next with archiving to store.
func NewFrameArchiver(store ObjectStore, next messagepipeline.Publisher, config Config, logger zerolog.Logger) (*FrameArchiver, error) {
	if store == nil {
		return nil, errors.New("object store cannot be nil")
	}
	if next == nil {
		return nil, errors.New("next publisher cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("archive bucket name is required")
	}
	RegisterMetrics()
	return &FrameArchiver{
		store:  store,
		next:   next,
		config: config,
		logger: logger.With().Str("component", "FrameArchiver").Logger(),
	}, nil
}

// RegisterMetrics registers the archive counters with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(archiveFailures)
	})
}

// Publish archives msg when it is a frame, or always under ArchiveAll, then
// forwards it.
func (a *FrameArchiver) Publish(ctx context.Context, msg types.GatewayMessage) error {
	if a.config.ArchiveAll || msg.Properties.Batched() {
		objectName, err := a.write(ctx, msg)
		if err != nil {
			archiveFailures.Inc()
			a.logger.Error().Err(err).Msg("Failed to archive frame, forwarding anyway.")
		} else {
			a.logger.Debug().Str("object_name", objectName).Msg("Archived frame.")
		}
	}
	return a.next.Publish(ctx, msg)
}

// ObjectName returns where a message with the given properties is stored for
// the given file id.
func (a *FrameArchiver) ObjectName(props *types.Properties, fileID string) string {
	identifier, ok := props.MacAddress()
	if !ok {
		identifier, ok = props.DeviceID()
	}
	if !ok {
		identifier = unidentified
	}
	return path.Join(a.config.ObjectPrefix, identifier, fileID+".json.gz")
}

func (a *FrameArchiver) write(ctx context.Context, msg types.GatewayMessage) (string, error) {
	objectName := a.ObjectName(msg.Properties, uuid.NewString())
	payload, err := framecodec.EncodeMessage(msg)
	if err != nil {
		return objectName, err
	}

	w := a.store.NewWriter(ctx, a.config.BucketName, objectName)
	gz := gzip.NewWriter(w)
	if _, err := gz.Write(payload); err != nil {
		_ = w.Close()
		return objectName, fmt.Errorf("compressing %s: %w", objectName, err)
	}
	if err := gz.Close(); err != nil {
		_ = w.Close()
		return objectName, fmt.Errorf("compressing %s: %w", objectName, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return objectName, fmt.Errorf("failed to close object writer for %s: %w", objectName, err)
	}
	return objectName, nil
}
