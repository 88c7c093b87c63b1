package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/geoingestflow/internal/services"
)

var (
	triggerInstance *services.UploadTriggerFunction
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("HandleUpload", handleUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// handleUpload runs a one-file job for each object finalized in the upload
// bucket.
func handleUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		triggerInstance, initErr = services.NewUploadTrigger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning an error marks the invocation as failed so it is redelivered.
	if _, err := triggerInstance.Process(ctx, gcsEvent); err != nil {
		return err
	}
	return nil
}
